// Package tgui builds Telegram HTML replies: escaped fragments, a line
// builder with send options, and rune-safe truncation.
package tgui
