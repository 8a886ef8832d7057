// SPDX-License-Identifier: BSD-3-Clause

package ipc

import (
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Defaults mirrored by New(); see config for field meaning.
const (
	DefaultServiceName        = "ipc"
	DefaultServiceDescription = "Embedded NATS message bus for the fsmrt runtime"
	DefaultServiceVersion     = "0.1.0"
	DefaultServerName         = "fsmrt-ipc"
	DefaultStoreDir           = "/var/lib/fsmrtd/ipc"
	DefaultMaxMemory          = 256 * 1024 * 1024
	DefaultMaxStorage         = 1024 * 1024 * 1024
	DefaultStartupTimeout     = 5 * time.Second
	DefaultShutdownTimeout    = 5 * time.Second
)

type config struct {
	serviceName        string
	serviceDescription string
	serviceVersion     string

	serverName string
	storeDir   string

	enableJetStream bool
	dontListen      bool

	maxMemory  int64
	maxStorage int64

	startupTimeout  time.Duration
	shutdownTimeout time.Duration

	maxConnections int
	maxControlLine int32
	maxPayload     int32
	writeDeadline  time.Duration

	pingInterval time.Duration
	maxPingsOut  int

	enableSlowConsumerDetection bool
	slowConsumerThreshold       time.Duration

	serverOpts *server.Options
}

// Validate checks for configuration values the embedded NATS server cannot
// tolerate (negative sizes, zero timeouts). It does not attempt to validate
// serverOpts, since an operator-supplied *server.Options is trusted as-is.
func (c *config) Validate() error {
	if c.serviceName == "" {
		return ErrInvalidServerName
	}
	if c.startupTimeout <= 0 || c.shutdownTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.maxMemory < 0 || c.maxStorage < 0 {
		return ErrStorageSpaceInsufficient
	}
	return nil
}

// ToServerOptions renders the config into NATS server options. A caller
// supplied serverOpts (WithServerOpts) takes precedence entirely, mirroring
// how the rest of the options pattern lets the last option win.
func (c *config) ToServerOptions() *server.Options {
	if c.serverOpts != nil {
		return c.serverOpts
	}

	opts := &server.Options{
		ServerName:      c.serverName,
		DontListen:      c.dontListen,
		JetStream:       c.enableJetStream,
		JetStreamMaxMemory:  c.maxMemory,
		JetStreamMaxStore:   c.maxStorage,
		StoreDir:        c.storeDir,
		MaxConn:         c.maxConnections,
		MaxControlLine:  c.maxControlLine,
		MaxPayload:      c.maxPayload,
		WriteDeadline:   c.writeDeadline,
		PingInterval:    c.pingInterval,
		MaxPingsOut:     c.maxPingsOut,
	}
	if c.enableSlowConsumerDetection {
		opts.MaxPending = int64(c.maxPayload) * 1024
	}
	return opts
}

type Option interface {
	apply(*config)
}

type serviceNameOption struct {
	name string
}

func (o *serviceNameOption) apply(c *config) {
	c.serviceName = o.name
}

// WithServiceName sets the NATS micro service name reported by Name().
func WithServiceName(name string) Option {
	return &serviceNameOption{name: name}
}

type serverNameOption struct {
	name string
}

func (o *serverNameOption) apply(c *config) {
	c.serverName = o.name
}

// WithServerName sets the embedded NATS server's identity.
func WithServerName(name string) Option {
	return &serverNameOption{name: name}
}

type storeDirOption struct {
	dir string
}

func (o *storeDirOption) apply(c *config) {
	c.storeDir = o.dir
}

// WithStoreDir sets the JetStream file storage directory.
func WithStoreDir(dir string) Option {
	return &storeDirOption{dir: dir}
}

type jetStreamOption struct {
	enabled bool
}

func (o *jetStreamOption) apply(c *config) {
	c.enableJetStream = o.enabled
}

// WithJetStream enables or disables JetStream on the embedded server.
func WithJetStream(enabled bool) Option {
	return &jetStreamOption{enabled: enabled}
}

type maxMemoryOption struct {
	bytes int64
}

func (o *maxMemoryOption) apply(c *config) {
	c.maxMemory = o.bytes
}

// WithMaxMemory sets JetStream's in-memory storage ceiling, in bytes.
func WithMaxMemory(bytes int64) Option {
	return &maxMemoryOption{bytes: bytes}
}

type maxStorageOption struct {
	bytes int64
}

func (o *maxStorageOption) apply(c *config) {
	c.maxStorage = o.bytes
}

// WithMaxStorage sets JetStream's on-disk storage ceiling, in bytes.
func WithMaxStorage(bytes int64) Option {
	return &maxStorageOption{bytes: bytes}
}

type startupTimeoutOption struct {
	timeout time.Duration
}

func (o *startupTimeoutOption) apply(c *config) {
	c.startupTimeout = o.timeout
}

// WithStartupTimeout bounds how long Run waits for the server to become
// ready for connections before giving up.
func WithStartupTimeout(timeout time.Duration) Option {
	return &startupTimeoutOption{timeout: timeout}
}

type shutdownTimeoutOption struct {
	timeout time.Duration
}

func (o *shutdownTimeoutOption) apply(c *config) {
	c.shutdownTimeout = o.timeout
}

// WithShutdownTimeout bounds how long Run waits for the server to shut down
// before returning; the server is not forced down when it expires.
func WithShutdownTimeout(timeout time.Duration) Option {
	return &shutdownTimeoutOption{timeout: timeout}
}

type maxConnectionsOption struct {
	max int
}

func (o *maxConnectionsOption) apply(c *config) {
	c.maxConnections = o.max
}

// WithMaxConnections caps concurrent client connections; 0 means unlimited.
func WithMaxConnections(max int) Option {
	return &maxConnectionsOption{max: max}
}

type serverOptsOption struct {
	opts *server.Options
}

func (o *serverOptsOption) apply(c *config) {
	c.serverOpts = o.opts
}

// WithServerOpts overrides every other option with a caller-constructed
// *server.Options, for callers that need NATS settings this package does
// not expose directly.
func WithServerOpts(opts *server.Options) Option {
	return &serverOptsOption{opts: opts}
}
