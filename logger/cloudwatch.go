package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"golang.org/x/time/rate"
)

// CloudWatchOptions configures metric publishing.
type CloudWatchOptions struct {
	Region          string
	Namespace       string
	Dashboard       string
	AccessKeyID     string
	SecretAccessKey string
	// PublishPerSecond caps PutMetricData calls; publishes over the budget
	// are dropped rather than queued.
	PublishPerSecond float64
}

var (
	cwMu        sync.RWMutex
	cwClient    *cloudwatch.Client
	cwLimiter   *rate.Limiter
	cwNamespace = "Arbflow"
	cwDashboard = "Arbflow"
)

// InitCloudWatch creates the CloudWatch client. Static credentials are used
// when both keys are set, otherwise the default AWS credential chain. When
// the client cannot be created metrics publishing stays disabled.
func InitCloudWatch(ctx context.Context, opts CloudWatchOptions) {
	log := GetLogger().WithComponent("cloudwatch")

	region := opts.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	perSecond := opts.PublishPerSecond
	if perSecond <= 0 {
		perSecond = 5
	}

	cwMu.Lock()
	cwClient = cloudwatch.NewFromConfig(cfg)
	cwLimiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	if opts.Namespace != "" {
		cwNamespace = opts.Namespace
	}
	if opts.Dashboard != "" {
		cwDashboard = opts.Dashboard
	}
	cwMu.Unlock()

	log.WithFields(Fields{"region": region, "namespace": cwNamespace}).Info("initialized CloudWatch client")

	CreateDefaultDashboard(ctx)
}

// publishMetrics sends the data when the client is initialised and the
// publish budget allows it.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	cwMu.RLock()
	client, limiter, namespace := cwClient, cwLimiter, cwNamespace
	cwMu.RUnlock()

	if client == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")
	if limiter != nil && !limiter.Allow() {
		log.Debug("CloudWatch publish budget exhausted; dropping metrics")
		return
	}

	if _, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}
	log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

// CreateDefaultDashboard ensures a dashboard with the feed and opportunity
// metrics exists. Failures are logged and otherwise ignored.
func CreateDefaultDashboard(ctx context.Context) {
	cwMu.RLock()
	client, namespace, dashboard := cwClient, cwNamespace, cwDashboard
	cwMu.RUnlock()
	if client == nil {
		return
	}

	body := fmt.Sprintf(`{
"widgets": [{
"type": "metric",
"width": 24,
"height": 6,
"properties": {
"metrics": [
    ["%[1]s","FramesRead"],
    ["%[1]s","Reconnects"],
    ["%[1]s","OpportunitiesReported"]
],
"period": 60,
"stat": "Sum",
"title": "Arbflow Feeds"
}
}]
}`, namespace)

	if _, err := client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(dashboard),
		DashboardBody: aws.String(body),
	}); err != nil {
		GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
