// Package logx is shelfbot's structured logging on top of zerolog.
//
// Console output is human readable with a short file:line caller. The file
// output is JSON. Warn-and-above lines can also be mirrored, rate limited,
// into a Discord channel.
package logx
