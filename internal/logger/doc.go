// Package logger provides structured, component-scoped logging for ytfetch.
//
// Usage:
//
//	log := logger.WithComponent(logger.ComponentOrchestrator)
//	log.Info("Merging streams", logger.Fields{"video": id, "target": path})
//
// The global logger is configured once by the CLI, either from the
// YTFETCH_LOG_* environment variables (EnvironmentConfig) or from a JSON file
// (LoadConfigFromFile). Components that are not enabled are silent regardless
// of level.
//
// Components:
//   - ComponentApp: CLI notices
//   - ComponentCatalog: stream listing and playlist resolution
//   - ComponentSelector: fetch plan decisions
//   - ComponentOrchestrator: per-video state transitions
//   - ComponentPlaylist: playlist iteration
//   - ComponentMuxer: ffmpeg invocations
//   - ComponentDownloader: HTTP range transfers
//   - ComponentInnerTube, ComponentCipher, ComponentClient, ComponentFormat,
//     ComponentBotGuard: YouTube backend internals
package logger
