// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aplane-algo/apbridge/internal/confirm"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/util"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statusConnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42"))

	statusDisconnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	debitStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	creditStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(1, 2)

	buttonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("238")).
			Padding(0, 2)

	buttonActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("42")).
				Bold(true).
				Padding(0, 2)

	buttonRejectActiveStyle = buttonActiveStyle.
				Background(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)

func kindTitle(kind string) string {
	switch confirm.Kind(kind) {
	case confirm.KindConnect:
		return "Connect"
	case confirm.KindSignMessage:
		return "Sign message"
	case confirm.KindSignTransaction:
		return "Sign transaction"
	case confirm.KindSignAndSend:
		return "Sign and send"
	}
	return kind
}

// View renders the UI
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("apbridge - Confirm"))
	b.WriteString("\n")

	if t := m.current(); t != nil {
		b.WriteString(m.renderTicket(t))
	} else {
		b.WriteString(m.renderIdle())
	}

	b.WriteString("\n")
	if m.err != "" {
		b.WriteString(errorStyle.Render(m.err))
		b.WriteString("\n")
	} else if m.notice != "" {
		b.WriteString(subtitleStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderIdle() string {
	switch m.state {
	case ConnectionConnecting:
		return subtitleStyle.Render("Connecting to apbridge...")
	case ConnectionDisconnected:
		return warningStyle.Render("Not connected to apbridge. Pages cannot get approvals until this UI reconnects.")
	}
	return subtitleStyle.Render("Waiting for requests...")
}

func (m Model) renderTicket(t *protocol.ConfirmRequestMessage) string {
	var b strings.Builder

	header := kindTitle(t.Kind) + " request"
	if more := len(m.queue) - 1; more > 0 {
		header += fmt.Sprintf("  (+%d more pending)", more)
	}
	b.WriteString(warningStyle.Bold(true).Render(header))
	b.WriteString("\n\n")

	b.WriteString(renderOrigin(t.Origin))
	if t.Timestamp > 0 {
		b.WriteString(subtitleStyle.Render("  at " + time.UnixMilli(t.Timestamp).Format("15:04:05")))
	}
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.viewport.TotalLineCount() > m.viewport.Height {
		b.WriteString(subtitleStyle.Render(fmt.Sprintf("%3.f%%", m.viewport.ScrollPercent()*100)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	accept, reject := buttonStyle, buttonStyle
	if m.focus == focusAccept {
		accept = buttonActiveStyle
	} else {
		reject = buttonRejectActiveStyle
	}
	acceptLabel := "Approve"
	if confirm.Kind(t.Kind) == confirm.KindConnect {
		acceptLabel = "Connect"
	}
	b.WriteString(accept.Render(acceptLabel))
	b.WriteString("  ")
	b.WriteString(reject.Render("Reject"))

	return popupStyle.Render(b.String())
}

func renderOrigin(o protocol.Origin) string {
	name := o.Domain
	if o.WebsiteName != "" && o.WebsiteName != o.Domain {
		name = fmt.Sprintf("%s (%s)", o.WebsiteName, o.Domain)
	}
	if o.IsVerified {
		return statusConnectedStyle.Render("✓ " + name)
	}
	return name + " " + warningStyle.Render("(unverified)")
}

// renderTicketBody renders the scrollable part of a modal.
func renderTicketBody(t *protocol.ConfirmRequestMessage, width int) string {
	var b strings.Builder
	switch confirm.Kind(t.Kind) {
	case confirm.KindConnect:
		b.WriteString("This site wants to connect to your wallet.\n")
		b.WriteString("It will see your address and may ask you to sign messages and transactions.\n")
		b.WriteString("Every signature still needs your approval.")

	case confirm.KindSignMessage:
		if t.Pretty {
			b.WriteString(subtitleStyle.Render("Message (JSON):"))
		} else {
			b.WriteString(subtitleStyle.Render("Message:"))
		}
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(width).Render(t.Message))

	default:
		action := "Sign"
		if t.ActionType == protocol.ActionTypeSignAndSend {
			action = "Sign and submit"
		}
		fmt.Fprintf(&b, "%s %d transaction(s)\n", action, t.TxnCount)
		if len(t.BalanceChanges) == 0 {
			b.WriteString(subtitleStyle.Render("No balance changes for your account"))
			b.WriteString("\n")
		} else {
			b.WriteString("\n")
			b.WriteString(subtitleStyle.Render("Balance changes:"))
			b.WriteString("\n")
			for _, c := range t.BalanceChanges {
				b.WriteString(renderBalanceChange(c))
				b.WriteString("\n")
			}
		}
		if t.Description != "" {
			b.WriteString("\n")
			b.WriteString(lipgloss.NewStyle().Width(width).Render(t.Description))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBalanceChange(c protocol.BalanceChangeView) string {
	name := c.Name
	if name == "" {
		name = fmt.Sprintf("ASA %d", c.Mint)
	}
	amount := c.AmountNormalized
	style := creditStyle
	if strings.HasPrefix(amount, "-") {
		style = debitStyle
	} else {
		amount = "+" + amount
	}
	return fmt.Sprintf("  %s %s  %s", style.Render(amount), name, subtitleStyle.Render(util.FormatAddressShort(c.Owner)))
}

func (m Model) renderStatusBar() string {
	var conn string
	switch m.state {
	case ConnectionConnected:
		conn = statusConnectedStyle.Render("● bridge")
	case ConnectionConnecting:
		conn = warningStyle.Render("○ connecting")
	default:
		conn = statusDisconnectedStyle.Render("○ disconnected")
	}

	parts := []string{conn}
	if m.status.Backend != "" {
		parts = append(parts, "wallet: "+m.status.Backend)
	}
	if m.status.Connected && m.status.Wallet != "" {
		parts = append(parts, statusConnectedStyle.Render(util.FormatAddressShort(m.status.Wallet)))
	} else {
		parts = append(parts, subtitleStyle.Render("no account"))
	}
	if m.answered > 0 {
		parts = append(parts, fmt.Sprintf("answered: %d", m.answered))
	}
	return strings.Join(parts, " | ")
}

func (m Model) renderHelp() string {
	var parts []string
	switch {
	case m.current() != nil:
		parts = []string{"y: approve", "n/esc: reject", "tab: switch", "enter: confirm", "↑/↓: scroll"}
	case m.state == ConnectionDisconnected:
		parts = []string{"c: reconnect", "q: quit"}
	default:
		parts = []string{"q: quit"}
	}
	return helpStyle.Render(strings.Join(parts, " | "))
}
