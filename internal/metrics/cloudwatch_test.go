package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"cryptosignal/logger"
)

type fakeCloudWatch struct {
	mu     sync.Mutex
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func withThrottle(t *testing.T, interval time.Duration, now *time.Time) *[][]cwtypes.MetricDatum {
	t.Helper()
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &fakeCloudWatch{}, namespace: "Test"})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = interval
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	timeNow = func() time.Time { return *now }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })
	return &batches
}

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	now := time.Now()
	batches := withThrottle(t, 50*time.Millisecond, &now)

	metric := Metric{Component: "test", Name: "requests", Timestamp: now, Value: 1, Unit: "count"}
	publishMetricDatum(metric)

	now = now.Add(25 * time.Millisecond)
	metric.Value = 2
	publishMetricDatum(metric)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if datum.MetricName == nil || *datum.MetricName != "requests" {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 1 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
}

func TestPublishMetricDatumAllowsAfterInterval(t *testing.T) {
	now := time.Now()
	batches := withThrottle(t, 50*time.Millisecond, &now)

	metric := Metric{Component: "test", Name: "requests", Timestamp: now, Value: 1}
	publishMetricDatum(metric)

	now = now.Add(75 * time.Millisecond)
	metric.Value = 2
	publishMetricDatum(metric)

	if len(*batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(*batches))
	}
	if v := (*batches)[1][0].Value; v == nil || *v != 2 {
		t.Fatalf("unexpected metric value: %v", v)
	}
}

func TestPublishMetricDatumSeriesAreIndependent(t *testing.T) {
	now := time.Now()
	batches := withThrottle(t, time.Minute, &now)

	publishMetricDatum(Metric{Component: "replayer", Name: "records", Value: 1, Fields: logger.Fields{"venue": "bybit"}})
	publishMetricDatum(Metric{Component: "replayer", Name: "records", Value: 1, Fields: logger.Fields{"venue": "bitget"}})

	if len(*batches) != 2 {
		t.Fatalf("expected one publish per venue, got %d", len(*batches))
	}
	dims := (*batches)[0][0].Dimensions
	if len(dims) != 2 || *dims[1].Name != "venue" {
		t.Fatalf("unexpected dimensions: %+v", dims)
	}
}

func TestPublishMetricsUsesNamespace(t *testing.T) {
	fake := &fakeCloudWatch{}
	state := &cloudWatchState{client: fake, namespace: "CryptoSignalTest"}

	publishMetrics(context.Background(), state, []cwtypes.MetricDatum{{}})
	if len(fake.inputs) != 1 || *fake.inputs[0].Namespace != "CryptoSignalTest" {
		t.Fatalf("unexpected inputs: %+v", fake.inputs)
	}

	fake.err = errors.New("throttled")
	publishMetrics(context.Background(), state, []cwtypes.MetricDatum{{}})
	if len(fake.inputs) != 2 {
		t.Fatalf("expected failed publish to be attempted")
	}
}

func TestMetricUnit(t *testing.T) {
	if metricUnit("seconds") != cwtypes.StandardUnitSeconds {
		t.Fatal("seconds should map to StandardUnitSeconds")
	}
	if metricUnit("bogus") != cwtypes.StandardUnitCount {
		t.Fatal("unknown units default to Count")
	}
}
