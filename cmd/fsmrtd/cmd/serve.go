// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fsmrt/fsmrt/examples/telecom"
	"github.com/fsmrt/fsmrt/pkg/catalog"
	"github.com/fsmrt/fsmrt/pkg/persistence"
	domainregistry "github.com/fsmrt/fsmrt/pkg/registry"
	"github.com/fsmrt/fsmrt/service/debugbus"
	"github.com/fsmrt/fsmrt/service/ipc"
	"github.com/fsmrt/fsmrt/service/operator"
	"github.com/fsmrt/fsmrt/service/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registry, live debug channel, and IPC bus",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()

	flags.String("name", "fsmrtd", "operator name, used as its persistent id file name and in its logs")
	flags.Duration("operator-timeout", 10*time.Second, "operator shutdown deadline")
	flags.Bool("disable-logo", false, "suppress the startup banner")

	flags.Int("target-tps", 0, "system-wide soft event-rate shaping target (0 disables)")
	flags.Int("max-events-per-machine-per-second", 0, "hard per-machine event-rate cap (0 disables)")
	flags.Int("max-concurrent-machines", 0, "hard cap on the active-machine set (0 is unlimited)")
	flags.Int("machine-eviction-threshold", 0, "soft cap above which idle machines become eviction candidates")
	flags.Duration("machine-idle-timeout", 5*time.Minute, "idle duration before a machine qualifies for eviction")
	flags.Bool("live-debug", true, "recorded in the registry config; the live debug channel is started whatever its value")
	flags.Bool("snapshot-debug", false, "recorded in the registry config; no snapshots are taken beyond normal C2 persistence")
	flags.Int("sample-one-in-n", 1, "publish one in every N transitions per machine as a live debug STATE_CHANGE message")

	flags.String("persistence", "memory", "persistence backend: memory, sqlite, or jetstream")
	flags.String("sqlite-path", ":memory:", "SQLite database path (persistence=sqlite)")
	flags.String("jetstream-bucket", "fsm-contexts", "JetStream KV bucket name (persistence=jetstream)")

	flags.String("ipc-store-dir", ipc.DefaultStoreDir, "embedded NATS JetStream storage directory")
	flags.Bool("ipc-jetstream", true, "enable JetStream on the embedded NATS server")
	flags.Int64("ipc-max-memory", ipc.DefaultMaxMemory, "JetStream in-memory storage ceiling, in bytes")
	flags.Int64("ipc-max-storage", ipc.DefaultMaxStorage, "JetStream on-disk storage ceiling, in bytes")

	flags.Bool("demo-telecom", true, "register the bundled call and SMS demonstration templates (examples/telecom)")
	flags.Duration("demo-call-ring-timeout", 30*time.Second, "ring timeout for the demo call template")
	flags.Duration("demo-sms-delivery-timeout", 30*time.Second, "delivery timeout for the demo SMS template")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	regCfg := domainregistry.Config{
		TargetTPS:                    viper.GetInt("target-tps"),
		MaxEventsPerMachinePerSecond: viper.GetInt("max-events-per-machine-per-second"),
		MaxConcurrentMachines:        viper.GetInt("max-concurrent-machines"),
		MachineEvictionThreshold:     viper.GetInt("machine-eviction-threshold"),
		MachineIdleTimeout:           viper.GetDuration("machine-idle-timeout"),
		SnapshotDebug:                viper.GetBool("snapshot-debug"),
		LiveDebug:                    viper.GetBool("live-debug"),
		SampleLogging: domainregistry.SampleLogging{
			OneInN: viper.GetInt("sample-one-in-n"),
		},
	}

	cat := catalog.New()
	regOpts := []registry.Option{
		registry.WithRegistryConfig(regCfg),
		registry.WithCatalog(cat),
	}

	switch viper.GetString("persistence") {
	case "sqlite":
		regOpts = append(regOpts,
			registry.WithPersistenceKind(registry.PersistenceSQLite),
			registry.WithSQLiteConfig(persistence.SQLiteConfig{Path: viper.GetString("sqlite-path")}),
		)
	case "jetstream":
		regOpts = append(regOpts,
			registry.WithPersistenceKind(registry.PersistenceJetStream),
			registry.WithJetStreamConfig(persistence.JetStreamConfig{Bucket: viper.GetString("jetstream-bucket")}),
		)
	case "memory", "":
		regOpts = append(regOpts, registry.WithPersistenceKind(registry.PersistenceMemory))
	default:
		return fmt.Errorf("fsmrtd: unknown persistence backend %q", viper.GetString("persistence"))
	}

	if viper.GetBool("demo-telecom") {
		if err := telecom.RegisterCatalog(cat); err != nil {
			return fmt.Errorf("fsmrtd: registering demo catalog: %w", err)
		}

		callTemplate, err := telecom.CallTemplate(viper.GetDuration("demo-call-ring-timeout"))
		if err != nil {
			return fmt.Errorf("fsmrtd: building demo call template: %w", err)
		}
		smsTemplate, err := telecom.SMSTemplate(viper.GetDuration("demo-sms-delivery-timeout"))
		if err != nil {
			return fmt.Errorf("fsmrtd: building demo sms template: %w", err)
		}

		regOpts = append(regOpts,
			registry.WithMachineSpec("call", telecom.CallMachineSpec(callTemplate)),
			registry.WithMachineSpec("sms", telecom.SMSMachineSpec(smsTemplate)),
			registry.WithTrigger(telecom.TagIncomingCall, telecom.CallMachineSpec(callTemplate)),
			registry.WithTrigger(telecom.TagSMSSend, telecom.SMSMachineSpec(smsTemplate)),
		)
	}

	regSvc := registry.New(regOpts...)
	sampleOneInN := regCfg.SampleLogging.OneInN
	if regCfg.SampleLogging.All {
		sampleOneInN = 1
	}
	debugSvc := debugbus.New(
		debugbus.WithRegistry(regSvc),
		debugbus.WithSampleLogging(sampleOneInN),
	)

	op := operator.New(
		operator.WithName(viper.GetString("name")),
		operator.WithTimeout(viper.GetDuration("operator-timeout")),
		operator.WithDisableLogo(viper.GetBool("disable-logo")),
		operator.WithIPC(
			ipc.WithServiceName("fsmrtd-ipc"),
			ipc.WithStoreDir(viper.GetString("ipc-store-dir")),
			ipc.WithJetStream(viper.GetBool("ipc-jetstream")),
			ipc.WithMaxMemory(viper.GetInt64("ipc-max-memory")),
			ipc.WithMaxStorage(viper.GetInt64("ipc-max-storage")),
		),
		operator.WithRegistryInstance(regSvc),
		operator.WithDebugbusInstance(debugSvc),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := op.Run(ctx, nil); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
