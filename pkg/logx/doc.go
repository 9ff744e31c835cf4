// Package logx is taskboard's structured logging layer.
//
// A thin wrapper over zerolog that keeps console output short (timestamp and
// file:line caller), writes JSON lines to an optional file, and can mirror
// warnings to a Telegram chat behind a rate limiter.
package logx
