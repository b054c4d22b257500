// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/dlfiles/internal/backend"
	"github.com/autobrr/dlfiles/internal/backend/metainfo"
	"github.com/autobrr/dlfiles/internal/backend/qbittorrent"
	"github.com/autobrr/dlfiles/internal/backend/tribler"
	"github.com/autobrr/dlfiles/internal/config"
	"github.com/autobrr/dlfiles/internal/database"
	"github.com/autobrr/dlfiles/internal/domain"
	"github.com/autobrr/dlfiles/internal/downloads"
	"github.com/autobrr/dlfiles/internal/models"
)

// services bundles the configured backend with the resources it owns.
type services struct {
	backend backend.Service
	db      *database.DB
}

func (s *services) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}
}

// openBackend connects to the backend selected in cfg. The metainfo backend
// also opens the database that stores its selections.
func openBackend(ctx context.Context, cfg *config.AppConfig) (*services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conf := cfg.Config
	switch conf.Backend {
	case domain.BackendTribler:
		client, err := tribler.NewClient(tribler.Config{
			URL:     conf.TriblerURL,
			APIKey:  conf.TriblerAPIKey,
			Timeout: cfg.RequestTimeout(),
		})
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx, uint(conf.ConnectAttempts)); err != nil {
			return nil, fmt.Errorf("failed to connect to tribler: %w", err)
		}
		return &services{backend: client}, nil

	case domain.BackendQbittorrent:
		client, err := qbittorrent.NewClient(ctx, qbittorrent.Config{
			Host:          conf.QbittorrentHost,
			Username:      conf.QbittorrentUsername,
			Password:      conf.QbittorrentPassword,
			BasicUser:     conf.QbittorrentBasicUser,
			BasicPass:     conf.QbittorrentBasicPass,
			TLSSkipVerify: conf.QbittorrentTLSSkipVerify,
			Timeout:       cfg.RequestTimeout(),
		})
		if err != nil {
			return nil, err
		}
		return &services{backend: client}, nil

	case domain.BackendMetainfo:
		db, err := database.New(cfg.GetDatabasePath())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		b, err := metainfo.New(metainfo.Config{
			TorrentDir: conf.MetainfoDir,
			DataDir:    conf.MetainfoDataDir,
		}, models.NewSelectionStore(db))
		if err != nil {
			db.Close()
			return nil, err
		}
		if _, err := b.Prune(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to prune stored selections")
		}
		return &services{backend: b, db: db}, nil
	}

	return nil, fmt.Errorf("unknown backend %q", conf.Backend)
}

func managerConfig(cfg *config.AppConfig) downloads.Config {
	mc := downloads.DefaultConfig()
	mc.PollInterval = cfg.PollInterval()
	if cfg.Config.HistorySize > 0 {
		mc.HistorySize = cfg.Config.HistorySize
	}
	if cfg.Config.RefreshAllLimit > 0 {
		mc.RefreshAllLimit = cfg.Config.RefreshAllLimit
	}
	return mc
}
