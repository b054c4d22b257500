// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent drives a qBittorrent instance through its WebAPI.
package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/autobrr/autobrr/pkg/ttlcache"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dlfiles/internal/backend"
)

var (
	trackerEditingMinVersion = semver.MustParse("2.2.0")
	filePriorityMinVersion   = semver.MustParse("2.2.0")
)

const torrentCacheTTL = 2 * time.Second

// api is the part of the go-qbittorrent client this package uses.
type api interface {
	LoginCtx(ctx context.Context) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	GetFilesInformationCtx(ctx context.Context, hash string) (*qbt.TorrentFiles, error)
	SetFilePriorityCtx(ctx context.Context, hash string, ids string, priority int) error
	AddTrackersCtx(ctx context.Context, hash string, urls string) error
	RemoveTrackersCtx(ctx context.Context, hash string, urls string) error
	ReAnnounceTorrentsCtx(ctx context.Context, hashes []string) error
}

// Config holds the connection settings of a qBittorrent instance.
type Config struct {
	Host          string
	Username      string
	Password      string
	BasicUser     string
	BasicPass     string
	TLSSkipVerify bool
	Timeout       time.Duration
}

// Client implements backend.Service and backend.TrackerManager.
type Client struct {
	api  api
	host string

	torrents *ttlcache.Cache[string, qbt.Torrent]

	mu                     sync.RWMutex
	webAPIVersion          string
	supportsFilePriority   bool
	supportsTrackerEditing bool
}

var (
	_ backend.Service        = (*Client)(nil)
	_ backend.TrackerManager = (*Client)(nil)
	_ backend.Pinger         = (*Client)(nil)
)

// NewClient logs in and reads the WebAPI version of the instance.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		BasicUser:     cfg.BasicUser,
		BasicPass:     cfg.BasicPass,
		Timeout:       int(timeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
	})

	loginCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := qbtClient.LoginCtx(loginCtx); err != nil {
		return nil, backend.Unreachable(fmt.Errorf("failed to connect to qBittorrent instance: %w", err))
	}

	client := newClient(qbtClient, cfg.Host)
	if err := client.RefreshCapabilities(loginCtx); err != nil {
		log.Warn().
			Err(err).
			Str("host", cfg.Host).
			Msg("Failed to refresh qBittorrent capabilities during client creation")
	}

	log.Debug().
		Str("host", cfg.Host).
		Str("webAPIVersion", client.WebAPIVersion()).
		Bool("supportsFilePriority", client.SupportsFilePriority()).
		Bool("supportsTrackerEditing", client.SupportsTrackerEditing()).
		Bool("tlsSkipVerify", cfg.TLSSkipVerify).
		Msg("qBittorrent client created successfully")

	return client, nil
}

func newClient(a api, host string) *Client {
	return &Client{
		api:  a,
		host: host,
		torrents: ttlcache.New(ttlcache.Options[string, qbt.Torrent]{}.
			SetDefaultTTL(torrentCacheTTL)),
	}
}

func (c *Client) Name() string { return "qbittorrent" }

func (c *Client) Ping(ctx context.Context) error {
	return c.RefreshCapabilities(ctx)
}

// RefreshCapabilities fetches the WebAPI version and recalculates feature
// support flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return wrapError(err, "get web API version")
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return errors.New("web API version is empty")
	}

	c.mu.Lock()
	previousVersion := c.webAPIVersion
	c.applyCapabilitiesLocked(version)
	c.mu.Unlock()

	if previousVersion != version {
		log.Trace().
			Str("host", c.host).
			Str("previousWebAPIVersion", previousVersion).
			Str("webAPIVersion", version).
			Msg("Refreshed qBittorrent capabilities")
	}
	return nil
}

func (c *Client) applyCapabilitiesLocked(version string) {
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().
			Str("host", c.host).
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return
	}

	c.supportsFilePriority = !v.LessThan(filePriorityMinVersion)
	c.supportsTrackerEditing = !v.LessThan(trackerEditingMinVersion)
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsFilePriority() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsFilePriority
}

func (c *Client) SupportsTrackerEditing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsTrackerEditing
}

func canonicalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// wrapError marks transport failures as unreachable and maps the metadata
// sentinel of go-qbittorrent to backend.ErrNotReady.
func wrapError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, qbt.ErrTorrentMetdataNotDownloadedYet):
		return fmt.Errorf("%s: %w: %w", op, backend.ErrNotReady, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case backend.IsTransportError(err):
		return fmt.Errorf("%s: %w", op, backend.Unreachable(err))
	default:
		return &backend.ApplicationError{Message: fmt.Sprintf("%s: %v", op, err)}
	}
}
