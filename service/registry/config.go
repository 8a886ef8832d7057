// SPDX-License-Identifier: BSD-3-Clause

package registry

import (
	"time"

	"github.com/fsmrt/fsmrt/pkg/catalog"
	"github.com/fsmrt/fsmrt/pkg/persistence"
	"github.com/fsmrt/fsmrt/pkg/registry"
)

// Defaults mirrored by New(); see config for field meaning.
const (
	DefaultServiceName        = "registry"
	DefaultServiceDescription = "FSM registry: machine lifecycle, event dispatch, and persistence"
	DefaultServiceVersion     = "0.1.0"
)

// PersistenceKind selects which pkg/persistence.Port backs the registry
// when the caller does not supply one directly via WithPersistencePort.
type PersistenceKind int

const (
	// PersistenceMemory keeps every machine's context in-process only.
	PersistenceMemory PersistenceKind = iota
	// PersistenceSQLite persists to a local SQLite database (spec.md §4.2).
	PersistenceSQLite
	// PersistenceJetStream persists to a NATS JetStream KV bucket.
	PersistenceJetStream
)

type config struct {
	serviceName        string
	serviceDescription string
	serviceVersion     string

	registryConfig registry.Config

	persistenceKind PersistenceKind
	persistencePort persistence.Port
	sqliteConfig    persistence.SQLiteConfig
	jetStreamConfig persistence.JetStreamConfig

	catalog *catalog.Catalog

	specs    map[string]registry.MachineSpec
	triggers map[string]registry.MachineSpec

	shutdownTimeout time.Duration
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

type registryConfigOption struct {
	cfg registry.Config
}

func (o *registryConfigOption) apply(c *config) {
	c.registryConfig = o.cfg
}

// WithRegistryConfig sets the rate/capacity/eviction/debug config spec.md
// §6 describes as the single registry-config record.
func WithRegistryConfig(cfg registry.Config) Option {
	return &registryConfigOption{cfg: cfg}
}

type persistencePortOption struct {
	port persistence.Port
}

func (o *persistencePortOption) apply(c *config) {
	c.persistencePort = o.port
}

// WithPersistencePort supplies an already-constructed persistence.Port
// directly, bypassing PersistenceKind selection entirely.
func WithPersistencePort(port persistence.Port) Option {
	return &persistencePortOption{port: port}
}

type persistenceKindOption struct {
	kind PersistenceKind
}

func (o *persistenceKindOption) apply(c *config) {
	c.persistenceKind = o.kind
}

// WithPersistenceKind selects which built-in persistence.Port
// implementation New constructs, when WithPersistencePort is not used.
func WithPersistenceKind(kind PersistenceKind) Option {
	return &persistenceKindOption{kind: kind}
}

type sqliteConfigOption struct {
	cfg persistence.SQLiteConfig
}

func (o *sqliteConfigOption) apply(c *config) {
	c.sqliteConfig = o.cfg
}

// WithSQLiteConfig configures the SQLite persistence port, used when
// PersistenceKind is PersistenceSQLite.
func WithSQLiteConfig(cfg persistence.SQLiteConfig) Option {
	return &sqliteConfigOption{cfg: cfg}
}

type jetStreamConfigOption struct {
	cfg persistence.JetStreamConfig
}

func (o *jetStreamConfigOption) apply(c *config) {
	c.jetStreamConfig = o.cfg
}

// WithJetStreamConfig configures the JetStream persistence port, used when
// PersistenceKind is PersistenceJetStream. The *nats.Conn the port binds to
// is always the registry service's own IPC connection.
func WithJetStreamConfig(cfg persistence.JetStreamConfig) Option {
	return &jetStreamConfigOption{cfg: cfg}
}

type catalogOption struct {
	cat *catalog.Catalog
}

func (o *catalogOption) apply(c *config) {
	c.catalog = o.cat
}

// WithCatalog supplies the event tag/factory catalog used to reconstruct
// fsm.Event values from the opaque payloads carried in send-event requests
// and the live debug channel's inbound injection messages.
func WithCatalog(cat *catalog.Catalog) Option {
	return &catalogOption{cat: cat}
}

type machineSpecOption struct {
	name string
	spec registry.MachineSpec
}

func (o *machineSpecOption) apply(c *config) {
	if c.specs == nil {
		c.specs = make(map[string]registry.MachineSpec)
	}
	c.specs[o.name] = o.spec
}

// WithMachineSpec registers a named template under which clients may
// explicitly create machines via the registry.create endpoint.
func WithMachineSpec(name string, spec registry.MachineSpec) Option {
	return &machineSpecOption{name: name, spec: spec}
}

type triggerOption struct {
	tag  string
	spec registry.MachineSpec
}

func (o *triggerOption) apply(c *config) {
	if c.triggers == nil {
		c.triggers = make(map[string]registry.MachineSpec)
	}
	c.triggers[o.tag] = o.spec
}

// WithTrigger registers spec as the auto-create template for event tag:
// sending tag to an unknown machine id creates it from spec (spec.md §4.5).
func WithTrigger(tag string, spec registry.MachineSpec) Option {
	return &triggerOption{tag: tag, spec: spec}
}

type shutdownTimeoutOption struct {
	timeout time.Duration
}

func (o *shutdownTimeoutOption) apply(c *config) {
	c.shutdownTimeout = o.timeout
}

// WithShutdownTimeout bounds how long Run waits for in-flight persistence
// on shutdown (spec.md §5 Cancellation). Defaults to
// registry.DefaultShutdownTimeout().
func WithShutdownTimeout(timeout time.Duration) Option {
	return &shutdownTimeoutOption{timeout: timeout}
}
