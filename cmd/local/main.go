package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/baderkha/access-transfer/pkg/conditional"
	"github.com/baderkha/access-transfer/pkg/migrate"
	"github.com/baderkha/access-transfer/pkg/migrate/archive"
	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/config"
	"github.com/baderkha/access-transfer/pkg/migrate/config/sourcecfg"
	"github.com/baderkha/access-transfer/pkg/migrate/config/targetcfg"
	"github.com/baderkha/access-transfer/pkg/migrate/connection"
	"github.com/baderkha/access-transfer/pkg/migrate/copier"
	"github.com/baderkha/access-transfer/pkg/migrate/progress"
	"github.com/baderkha/access-transfer/pkg/migrate/scheduler"
	"github.com/baderkha/access-transfer/pkg/migrate/table"
	"github.com/baderkha/access-transfer/pkg/server"
)

type jobConfig = config.Config[sourcecfg.Access, targetcfg.MYSQL]

var (
	cfgPath    = flag.String("config", "job.json", "job file, json or yaml")
	resumePath = flag.String("resume", "", "snapshot.json of an earlier run, objects it completed are skipped")
	keepServe  = flag.Bool("serve", false, "keep serving the status api after the session finishes, until interrupted")
)

func main() {
	flag.Parse()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).With().Timestamp().Logger()
	if err := run(log); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func run(log zerolog.Logger) error {
	startTime := time.Now()
	fs := afero.NewOsFs()

	cfg, err := config.Load[sourcecfg.Access, targetcfg.MYSQL](fs, *cfgPath)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(conditional.Ternary(cfg.Debug, zerolog.DebugLevel, zerolog.InfoLevel))
	if cfg.Debug {
		redacted := *cfg
		redacted.Target.Password = "***"
		log.Debug().Msg("config\n" + spew.Sdump(redacted))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	target, err := connection.DialMysql(ctx, &cfg.Target, cfg.MaxConcurrency)
	if err != nil {
		return err
	}
	defer target.Close()
	source, err := connection.Open(
		conditional.FirstNonZero(cfg.SourceConfig.Driver, sourcecfg.DefaultDriver),
		cfg.SourceConfig.DSN,
		cfg.MaxConcurrency,
		cfg.SourceConfig.QueryLogging,
	)
	if err != nil {
		return err
	}
	defer source.Close()

	cat := catalog.NewManifestFile(fs, cfg.SourceConfig.Manifest)
	objs, err := cat.ListObjects(ctx)
	if err != nil {
		return err
	}
	selection := cfg.SourceConfig.ObjectList
	if len(selection) == 0 {
		selection = lo.Map(objs, func(o catalog.Object, _ int) string { return o.Name })
	}
	preflight(ctx, log, source, objs, selection, cfg.MaxConcurrency)

	engine := migrate.NewEngine(
		cat,
		copier.NewRegistry(source, table.QuoteBrackets, copier.Passthrough, log),
		connection.NewPool(target, cfg.MaxConcurrency),
		migrate.Options{
			Concurrency:  cfg.MaxConcurrency,
			BatchSize:    cfg.BatchRecordSize,
			BatchTimeout: cfg.BatchTimeout(),
			Retry: scheduler.RetryPolicy{
				MaxAttempts:     cfg.Retry.MaxAttempts,
				InitialInterval: cfg.Retry.InitialInterval(),
				MaxInterval:     cfg.Retry.MaxInterval(),
			},
		},
		migrate.WithLogger(log),
		migrate.WithArchiver(newArchiver(cfg, fs)),
	)

	var sopts []migrate.SessionOption
	if *resumePath != "" {
		prev, err := archive.Load(fs, *resumePath)
		if err != nil {
			return err
		}
		sopts = append(sopts, migrate.WithResume(prev))
	}
	id, err := engine.StartSession(ctx, selection, sopts...)
	if err != nil {
		return err
	}

	quit := make(chan struct{})
	go waitForInterrupt(log, func() {
		if err := engine.CancelSession(id); err != nil {
			log.Warn().Err(err).Msg("cancel failed")
		}
		close(quit)
	})

	var (
		g, gctx = errgroup.WithContext(ctx)
		done    = make(chan struct{})
		final   migrate.Snapshot
	)
	g.Go(func() error {
		defer close(done)
		if err := engine.Wait(gctx, id); err != nil {
			return err
		}
		snap, err := engine.GetSnapshot(id)
		if err != nil {
			return err
		}
		final = snap
		report(log, snap)
		if *keepServe && cfg.Listen != "" {
			select {
			case <-quit:
			case <-gctx.Done():
			}
		}
		return nil
	})
	if cfg.Listen != "" {
		srv := &http.Server{Addr: cfg.Listen, Handler: server.New(engine, log).Router(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info().Str("listen", cfg.Listen).Str("session", id).Msg("serving status api")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	runErr := g.Wait()

	ectx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := engine.EndSession(ectx, id); err != nil {
		runErr = errors.Join(runErr, err)
	}
	log.Info().Dur("took", time.Since(startTime)).Msg("time taken")
	if runErr != nil {
		return runErr
	}
	if final.Status != progress.Completed {
		return fmt.Errorf("session %s finished %s", id, final.Status)
	}
	return nil
}

// waitForInterrupt : the first signal cancels the session, a second one exits right away
func waitForInterrupt(log zerolog.Logger, onCancel func()) {
	interruptChannel := make(chan os.Signal, 2)
	signal.Notify(interruptChannel, os.Interrupt, syscall.SIGTERM)

	<-interruptChannel
	log.Warn().Msg("Interrupt received. Stopping gracefully, interrupt again to exit now ...")
	onCancel()

	<-interruptChannel
	log.Warn().Msg("Second interrupt received. Exiting")
	os.Exit(130)
}

// newArchiver : snapshots always go to disk, and to s3 when a bucket is configured.
// WRITE_DIR and S3_PREFIX override the configured locations.
func newArchiver(cfg *jobConfig, fs afero.Fs) migrate.Archiver {
	dir := conditional.Ternary(os.Getenv("WRITE_DIR") != "", os.Getenv("WRITE_DIR"), conditional.FirstNonZero(cfg.Archive.Dir, "./tmp"))
	archivers := archive.Multi{archive.NewFile(fs, dir)}
	if cfg.Archive.S3Bucket != "" {
		prefix := conditional.Ternary(os.Getenv("S3_PREFIX") != "", os.Getenv("S3_PREFIX"), conditional.FirstNonZero(cfg.Archive.S3Prefix, "files"))
		client := s3.New(session.Must(session.NewSession(aws.NewConfig())))
		archivers = append(archivers, archive.NewS3(client, cfg.Archive.S3Bucket, prefix))
	}
	return archivers
}

func report(log zerolog.Logger, snap migrate.Snapshot) {
	log.Info().
		Str("session", snap.ID).
		Str("status", string(snap.Status)).
		Float64("overall_progress", snap.OverallProgress).
		Int("completed", snap.Summary.Completed).
		Int("failed", snap.Summary.Failed).
		Int("cancelled", snap.Summary.Cancelled).
		Msg("session finished")
	for _, it := range snap.Items {
		if it.Error != nil {
			log.Error().Str("object", it.Name).Str("class", string(it.Error.Class)).Str("row_id", it.Error.RowID).Msg(it.Error.Message)
		}
	}
	log.Debug().Msg("final snapshot\n" + spew.Sdump(snap.Items))
}
