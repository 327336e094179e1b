// Package ytfetch downloads YouTube videos and playlists at a requested
// resolution.
//
// Features:
//   - Split video/audio downloads merged with ffmpeg when the exact resolution exists
//   - Fallback to the highest available stream when it does not
//   - Skip-on-exists, so an interrupted playlist run can simply be restarted
//   - Signature deciphering and n-throttling support
//   - Pluggable catalogs (InnerTube or kkdai/youtube) and muxers
package ytfetch
