//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/SwincikJr/cloud-solutions/pkg/events"
	"github.com/SwincikJr/cloud-solutions/pkg/queue/sqs"
	"github.com/SwincikJr/cloud-solutions/pkg/utils"
)

const (
	localstackPort = nat.Port("4566/tcp")
	e2eRegion      = "us-east-1"
)

func getEnvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// startLocalStack returns the endpoint of a LocalStack instance, starting a
// container when E2E_LOCALSTACK_ENDPOINT is unset. The returned stop func
// is a no-op for an external instance.
func startLocalStack(ctx context.Context) (string, func(), error) {
	if endpoint := os.Getenv("E2E_LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint, func() {}, nil
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        getEnvStr("E2E_LOCALSTACK_IMAGE", "localstack/localstack:3.8"),
			ExposedPorts: []string{string(localstackPort)},
			HostConfigModifier: func(hc *container.HostConfig) {
				hc.AutoRemove = true
			},
			Env: map[string]string{
				"SERVICES":       "sns,sqs",
				"DEFAULT_REGION": e2eRegion,
			},
			WaitingFor: wait.ForLog("Ready.").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to start localstack: %w", err)
	}

	port, err := ctr.MappedPort(ctx, localstackPort)
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return "", nil, fmt.Errorf("failed to resolve localstack port: %w", err)
	}
	stop := func() { _ = testcontainers.TerminateContainer(ctr) }
	return fmt.Sprintf("http://localhost:%s", port.Port()), stop, nil
}

// newEvents builds an Events instance on the SNS/SQS backend with a topic
// name unique to the test.
func newEvents(t *testing.T, opts events.Options) *events.Events {
	t.Helper()

	sqsClient, snsClient, err := sqs.LoadClients(context.Background(),
		sqs.Config{Region: e2eRegion, Endpoint: endpoint},
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)

	log, err := utils.NewSugaredLogger(testing.Verbose())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Sync() })

	if opts.TopicName == "" {
		opts.TopicName = fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	}
	if opts.SubscribeAttributes == nil {
		opts.SubscribeAttributes = map[string]string{"RawMessageDelivery": "true"}
	}
	if opts.WaitTime == 0 {
		opts.WaitTime = time.Second
	}

	e, err := events.New(sqs.New(sqsClient, snsClient, log.Named("sqs")), opts, log, nil)
	require.NoError(t, err)
	return e
}

// startConsumer runs e.Start until the test ends and reports its result.
func startConsumer(t *testing.T, e *events.Events) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		done <- e.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return done
}

// teardown deletes the queues and topic of e once the consumer is stopped.
func teardown(t *testing.T, e *events.Events, queues ...string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		for _, q := range queues {
			_ = e.DeleteQueue(ctx, q)
		}
		_ = e.DeleteTopic(ctx)
	})
}

// collector records raw bodies per queue.
type collector struct {
	mu   sync.Mutex
	seen map[string][]string
}

func newCollector() *collector {
	return &collector{seen: make(map[string][]string)}
}

func (c *collector) handler(_ context.Context, msg *events.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[msg.Queue] = append(c.seen[msg.Queue], msg.Raw)
	return nil
}

func (c *collector) bodies(queue string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen[queue]...)
}
