// Package tgui provides small Telegram text helpers:
//   - Escaping for ParseMode "HTML" and "MarkdownV2"
//   - Rune-aware truncation for free text
package tgui
