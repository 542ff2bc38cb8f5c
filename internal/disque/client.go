package disque

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 5 * time.Second

// ErrQueueNotFound is returned by QueueStats when the broker no longer knows
// the queue, typically because it was removed after the scan listed it.
var ErrQueueNotFound = errors.New("disque: queue not found")

// Options tunes a connection.
type Options struct {
	// Timeout bounds dialing and each read/write on the connection.
	Timeout time.Duration
}

// Client is one connection to a Disque node. It is not shared between scrapes.
type Client struct {
	addr string
	cli  *redis.Client
}

// Open parses rawURL, dials the broker and checks it answers PING.
// disque:// and disques:// are accepted as aliases of redis:// and rediss://.
func Open(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	ropts, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	ropts.DialTimeout = opts.Timeout
	ropts.ReadTimeout = opts.Timeout
	ropts.WriteTimeout = opts.Timeout
	ropts.ContextTimeoutEnabled = true
	ropts.PoolSize = 1
	ropts.MaxRetries = -1 // the collector's next scrape is the retry
	ropts.Protocol = 2
	ropts.DisableIndentity = true

	cli := redis.NewClient(ropts)
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("disque: connect %s: %w", ropts.Addr, err)
	}
	return &Client{addr: ropts.Addr, cli: cli}, nil
}

// Addr is the host:port the client is connected to.
func (c *Client) Addr() string { return c.addr }

// Close releases the connection.
func (c *Client) Close() error { return c.cli.Close() }

// ScanQueues runs one QSCAN page starting at cursor and returns the next
// cursor (0 when the scan is complete) and the queue names in this page.
// busyloop asks the broker to walk the whole keyspace in one call.
func (c *Client) ScanQueues(ctx context.Context, cursor uint64, count int, busyloop bool) (uint64, []string, error) {
	args := []interface{}{"QSCAN", strconv.FormatUint(cursor, 10), "COUNT", count}
	if busyloop {
		args = append(args, "BUSYLOOP")
	}

	reply, err := c.cli.Do(ctx, args...).Slice()
	if err != nil {
		return 0, nil, fmt.Errorf("disque: qscan cursor %d: %w", cursor, err)
	}
	if len(reply) != 2 {
		return 0, nil, fmt.Errorf("disque: qscan: expected 2 elements, got %d", len(reply))
	}

	next, err := parseCursor(reply[0])
	if err != nil {
		return 0, nil, fmt.Errorf("disque: qscan: %w", err)
	}

	items, ok := reply[1].([]interface{})
	if !ok {
		return 0, nil, fmt.Errorf("disque: qscan: names element is %T, not array", reply[1])
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		name, ok := it.(string)
		if !ok {
			return 0, nil, fmt.Errorf("disque: qscan: queue name is %T, not string", it)
		}
		names = append(names, name)
	}
	return next, names, nil
}

// QueueStats runs QSTAT for queue and decodes the reply.
// A decode failure is returned as a *DecodeError.
func (c *Client) QueueStats(ctx context.Context, queue string) (QueueStats, error) {
	reply, err := c.cli.Do(ctx, "QSTAT", queue).Result()
	if errors.Is(err, redis.Nil) {
		return QueueStats{}, fmt.Errorf("%w: %q", ErrQueueNotFound, queue)
	}
	if err != nil {
		return QueueStats{}, fmt.Errorf("disque: qstat %q: %w", queue, err)
	}
	return DecodeQueueStats(reply)
}

func parseURL(rawURL string) (*redis.Options, error) {
	switch {
	case strings.HasPrefix(rawURL, "disque://"):
		rawURL = "redis://" + strings.TrimPrefix(rawURL, "disque://")
	case strings.HasPrefix(rawURL, "disques://"):
		rawURL = "rediss://" + strings.TrimPrefix(rawURL, "disques://")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("disque: parse url: %w", err)
	}
	return opts, nil
}

func parseCursor(v interface{}) (uint64, error) {
	switch c := v.(type) {
	case string:
		n, err := strconv.ParseUint(c, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad cursor %q", c)
		}
		return n, nil
	case int64:
		if c < 0 {
			return 0, fmt.Errorf("bad cursor %d", c)
		}
		return uint64(c), nil
	default:
		return 0, fmt.Errorf("cursor is %T", v)
	}
}
