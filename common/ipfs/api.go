package ipfs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/abevier/tsk/ratelimiter"

	iface "github.com/ipfs/boxo/coreiface"
	"github.com/ipfs/kubo/client/rpc"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.IpfsApi = &IpfsApi{}

const defaultIpfsRateLimit = 16
const defaultIpfsBurstLimit = 16
const defaultIpfsLimiterMaxQueueDepth = 100
const defaultIpfsPublishPubsubTimeout = 30 * time.Second

// IpfsApi broadcasts audit events over IPFS pubsub. Publishing goes through a rate limiter so that a burst of relayed
// events cannot overwhelm the node.
type IpfsApi struct {
	core          iface.CoreAPI
	logger        models.Logger
	addrStr       string
	metricService models.MetricService
	limiter       *ratelimiter.RateLimiter[models.PubSubPublishTask, any]
}

// createCoreApi accepts either a multiaddr or a plain http url.
func createCoreApi(addrStr string) (iface.CoreAPI, error) {
	addr, err := ma.NewMultiaddr(addrStr)
	if err != nil {
		c := &http.Client{
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: true,
			},
		}
		return rpc.NewURLApiWithClient(addrStr, c)
	}
	return rpc.NewApi(addr)
}

func NewIpfsApiWithCore(logger models.Logger, addrStr string, coreApi iface.CoreAPI, metricService models.MetricService) *IpfsApi {
	ipfs := IpfsApi{core: coreApi, logger: logger, addrStr: addrStr, metricService: metricService}
	limiterOpts := ratelimiter.Opts{
		Limit:             defaultIpfsRateLimit,
		Burst:             defaultIpfsBurstLimit,
		MaxQueueDepth:     defaultIpfsLimiterMaxQueueDepth,
		FullQueueStrategy: ratelimiter.BlockWhenFull,
	}
	ipfs.limiter = ratelimiter.New(limiterOpts, ipfs.limiterRunFunction)
	return &ipfs
}

func NewIpfsApi(logger models.Logger, addrStr string, metricService models.MetricService) (*IpfsApi, error) {
	coreApi, err := createCoreApi(addrStr)
	if err != nil {
		return nil, fmt.Errorf("ipfs: error creating client at %s: %w", addrStr, err)
	}
	return NewIpfsApiWithCore(logger, addrStr, coreApi, metricService), nil
}

// Publish queues data for broadcast on topic. A publish that is still waiting for the limiter when ctx expires is
// dropped and counted rather than reported as an error.
func (i *IpfsApi) Publish(ctx context.Context, topic string, data []byte) error {
	if _, err := i.limiter.Submit(ctx, models.PubSubPublishTask{Topic: topic, Data: data}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			i.metricService.Count(ctx, models.MetricName_IpfsPublishExpired, 1)
			return nil
		}
		return err
	}
	return nil
}

func (i *IpfsApi) limiterRunFunction(ctx context.Context, task models.PubSubPublishTask) (any, error) {
	pubsubCtx, cancel := context.WithTimeout(ctx, defaultIpfsPublishPubsubTimeout)
	defer cancel()

	i.logger.Debugf("ipfs: publishing %d bytes to %s on %s", len(task.Data), task.Topic, i.addrStr)
	if err := i.core.PubSub().Publish(pubsubCtx, task.Topic, task.Data); err != nil {
		i.logger.Errorf("ipfs: error publishing to %s on %s: %v", task.Topic, i.addrStr, err)
		i.metricService.Count(ctx, models.MetricName_IpfsError, 1)
		return nil, fmt.Errorf("ipfs: publishing to %s failed on %s: %w", task.Topic, i.addrStr, err)
	}
	return nil, nil
}
