// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Backend names accepted by the backend setting.
const (
	BackendTribler     = "tribler"
	BackendQbittorrent = "qbittorrent"
	BackendMetainfo    = "metainfo"
)

type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	Backend         string `toml:"backend" mapstructure:"backend"`
	PollInterval    int    `toml:"pollInterval" mapstructure:"pollInterval"`
	HistorySize     int    `toml:"historySize" mapstructure:"historySize"`
	RefreshAllLimit int    `toml:"refreshAllLimit" mapstructure:"refreshAllLimit"`
	ConnectAttempts int    `toml:"connectAttempts" mapstructure:"connectAttempts"`
	RequestTimeout  int    `toml:"requestTimeout" mapstructure:"requestTimeout"`

	TriblerURL    string `toml:"triblerUrl" mapstructure:"triblerUrl"`
	TriblerAPIKey string `toml:"triblerApiKey" mapstructure:"triblerApiKey"`

	QbittorrentHost          string `toml:"qbittorrentHost" mapstructure:"qbittorrentHost"`
	QbittorrentUsername      string `toml:"qbittorrentUsername" mapstructure:"qbittorrentUsername"`
	QbittorrentPassword      string `toml:"qbittorrentPassword" mapstructure:"qbittorrentPassword"`
	QbittorrentBasicUser     string `toml:"qbittorrentBasicUser" mapstructure:"qbittorrentBasicUser"`
	QbittorrentBasicPass     string `toml:"qbittorrentBasicPass" mapstructure:"qbittorrentBasicPass"`
	QbittorrentTLSSkipVerify bool   `toml:"qbittorrentTlsSkipVerify" mapstructure:"qbittorrentTlsSkipVerify"`

	MetainfoDir     string `toml:"metainfoDir" mapstructure:"metainfoDir"`
	MetainfoDataDir string `toml:"metainfoDataDir" mapstructure:"metainfoDataDir"`

	CORSAllowedOrigins []string `toml:"corsAllowedOrigins" mapstructure:"corsAllowedOrigins"`

	PprofEnabled          bool   `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`
}
