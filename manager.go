package main

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/scalebots/sharder/gateway"
)

// BufferSize sets a maximum buffer size for channels
const BufferSize = 2048

// Manager owns everything one sharder process runs: the broker clients, the
// identify queue, the producer and a supervisor per shard.
type Manager struct {
	Token         string
	Configuration *Config
	log           zerolog.Logger

	RedisClient *redis.Client

	queue    *IdentifyQueue
	producer *Producer
	status   *StatusPublisher

	// The http client used for REST requests
	Client *http.Client

	// The user agent used for REST APIs
	UserAgent string

	GatewayResponse *gateway.GatewayBotResponse
	gatewayURL      string

	supervisors []*Supervisor
	wg          sync.WaitGroup

	runCancel  context.CancelFunc
	prodCancel context.CancelFunc
}

// NewManager wires up the broker clients and verifies they are reachable.
func NewManager(configuration *Config, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		Token:         configuration.Token,
		Configuration: configuration,
		log:           log,
		Client:        &http.Client{Timeout: (20 * time.Second)},
		UserAgent:     "DiscordBot (https://github.com/scalebots/sharder, v" + gateway.VERSION + ")",
	}

	// Every bridge parks a connection in BLPOP, so the pool has to be
	// larger than the shard count.
	m.RedisClient = redis.NewClient(&redis.Options{
		Addr:     configuration.RedisAddress,
		PoolSize: configuration.ShardCount() + 10,
	})

	// Verify that redis has successfully connected
	if err := m.RedisClient.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	if configuration.NatsAddress != "" {
		clientID := fmt.Sprintf("sharder-%d-%d", configuration.ShardStart, configuration.ShardUntil)

		status, err := NewStatusPublisher(
			configuration.NatsAddress,
			configuration.ClusterID,
			clientID,
			configuration.NatsChannel,
			log,
		)
		if err != nil {
			return nil, err
		}

		m.status = status
	}

	m.queue = NewIdentifyQueue(log)
	m.producer = NewProducer(m.RedisClient, log)

	return m, nil
}

// Open resolves the gateway address, starts the queue and producer, then
// brings up one supervisor per owned shard.
func (m *Manager) Open(ctx context.Context) error {
	gatewayURL := m.Configuration.GatewayURL

	if gatewayURL == "" {
		gr, err := m.Gateway()
		if err != nil {
			return err
		}

		m.GatewayResponse = gr

		m.log.Info().Str("gateway", gr.URL).Int("shards", gr.Shards).Int("remaining", gr.SessionLimit.Remaining).Send()

		if m.Configuration.ShardCount() > gr.SessionLimit.Remaining {
			m.log.Warn().Int("shards", m.Configuration.ShardCount()).Int("remaining", gr.SessionLimit.Remaining).Msg("not enough sessions remaining")
		}

		gatewayURL = strings.TrimSuffix(gr.URL, "/") + "/" + gateway.GatewayQuery
	}

	m.gatewayURL = gatewayURL

	runCtx, runCancel := context.WithCancel(ctx)
	m.runCancel = runCancel

	// The producer outlives the supervisors so late events still flush.
	prodCtx, prodCancel := context.WithCancel(context.Background())
	m.prodCancel = prodCancel

	go m.queue.Run()
	go m.producer.Run(prodCtx)

	connector := func(shardID int) ShardConn {
		return gateway.NewShard(
			m.Token,
			shardID,
			int(m.Configuration.ShardTotal),
			m.gatewayURL,
			m.log.With().Int("shard", shardID).Logger(),
		)
	}

	m.log.Info().Int("shards", m.Configuration.ShardCount()).Msg("creating shards")

	for shardID := m.Configuration.ShardStart; shardID <= m.Configuration.ShardUntil; shardID++ {
		supervisor := &Supervisor{
			ShardID:  shardID,
			queue:    m.queue,
			producer: m.producer,
			broker:   m.RedisClient,
			status:   m.status,
			connect:  connector,
			log:      m.log.With().Int("shard", shardID).Logger(),
		}

		m.supervisors = append(m.supervisors, supervisor)

		m.wg.Add(1)

		go func(supervisor *Supervisor) {
			defer m.wg.Done()

			if err := supervisor.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Error().Err(err).Int("shard", supervisor.ShardID).Msg("Supervisor terminated")
			}
		}(supervisor)
	}

	return nil
}

// Gateway returns the gateway url and session start limit
func (m *Manager) Gateway() (*gateway.GatewayBotResponse, error) {
	req, err := http.NewRequest("GET", gateway.EndpointGatewayBot, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("authorization", m.Token)
	req.Header.Set("User-Agent", m.UserAgent)

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		resp.Body.Close()
	}()

	response, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		rl := gateway.TooManyRequests{}

		if err = json.Unmarshal(response, &rl); err != nil {
			m.log.Error().Err(err).Msg("rate limit unmarshal error")

			return nil, err
		}

		m.log.Warn().Dur("retry_after", rl.RetryAfter).Msg("gateway request was ratelimited")
		time.Sleep(rl.RetryAfter * time.Millisecond)

		return m.Gateway()
	case http.StatusUnauthorized:
		return nil, ErrInvalidToken
	}

	st := &gateway.GatewayBotResponse{}

	if err = json.Unmarshal(response, st); err != nil {
		return nil, err
	}

	return st, nil
}

// Close gracefully closes every shard and flushes pending events before
// disconnecting from the broker.
func (m *Manager) Close() {
	m.log.Info().Msg("Closing sessions...")

	if m.runCancel != nil {
		m.runCancel()
	}

	m.wg.Wait()

	m.queue.Close()

	// Allow time for late dispatchers
	m.producer.waitForDrain(10 * time.Second)

	if m.prodCancel != nil {
		m.prodCancel()
	}

	m.status.Close()

	if err := m.RedisClient.Close(); err != nil {
		m.log.Warn().Err(err).Msg("failed to close redis client")
	}
}
