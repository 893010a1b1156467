package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/MimeLyc/rulebook-translator/internal/artifact"
	"github.com/MimeLyc/rulebook-translator/internal/browser"
	"github.com/MimeLyc/rulebook-translator/internal/config"
	"github.com/MimeLyc/rulebook-translator/internal/extract"
	"github.com/MimeLyc/rulebook-translator/internal/fetch"
	"github.com/MimeLyc/rulebook-translator/internal/persistence"
	"github.com/MimeLyc/rulebook-translator/internal/rulebook"
	"github.com/MimeLyc/rulebook-translator/internal/service"
	"github.com/MimeLyc/rulebook-translator/internal/translator"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// app holds the components shared by every command. Each dependency is
// built once here and handed down explicitly.
type app struct {
	cfg      *config.Config
	store    *persistence.Store
	session  *browser.Session
	pipeline *rulebook.Pipeline
	service  *service.Service
}

func openStore(ctx context.Context, cfg *config.Config) (*persistence.Store, error) {
	dsn := cfg.Database.Path
	if cfg.Database.Driver == config.DriverPostgres {
		dsn = cfg.Database.DSN
	}
	store, err := persistence.Open(ctx, cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	return store, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}

	if cfg.Fetch.Mode == config.FetchModeBrowser || cfg.Translate.Provider == config.ProviderBrowserGemini {
		a.session = browser.NewSession(browser.Options{
			Headless:   cfg.Browser.Headless,
			ProfileDir: cfg.Browser.ProfileDir,
			Bin:        cfg.Browser.Bin,
			Timeout:    cfg.Browser.Timeout,
		})
	}

	fetcher, err := fetch.New(cfg, a.session)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	tr, err := translator.New(cfg, a.session)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	var artifactOpts []artifact.Option
	if cfg.Artifacts.Endpoint != "" {
		mirror, err := artifact.NewMinioMirror(artifact.MinioConfig{
			Endpoint:  cfg.Artifacts.Endpoint,
			AccessKey: cfg.Artifacts.AccessKey,
			SecretKey: cfg.Artifacts.SecretKey,
			Bucket:    cfg.Artifacts.Bucket,
			UseSSL:    cfg.Artifacts.UseSSL,
		})
		if err != nil {
			return nil, errors.Join(err, a.Close())
		}
		artifactOpts = append(artifactOpts, artifact.WithMirror(mirror))
		log.Info("Mirroring rulebook artifacts to %s/%s", cfg.Artifacts.Endpoint, cfg.Artifacts.Bucket)
	}

	a.pipeline = rulebook.New(store, fetcher, tr,
		artifact.NewLocalStore(cfg.Paths.OutputDir, artifactOpts...),
		rulebook.WithDownloadDir(cfg.Paths.DownloadDir),
		rulebook.WithExtractor(extract.New(extract.WithMaxPDFPages(cfg.Fetch.MaxPDFPages))),
	)
	a.service = service.New(store, tr, a.pipeline,
		service.WithPreserveProperNouns(cfg.Translate.PreserveProperNouns),
		service.WithDescriptionCap(cfg.Translate.DescriptionCap),
		service.WithMaxRulebooks(cfg.Translate.MaxRulebooks),
		service.WithRulebookDelay(cfg.Batch.DownloadDelay),
	)
	log.Info("Using %s for translation, fetch mode %s, %s store", tr.Name(), cfg.Fetch.Mode, store.Driver())
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
