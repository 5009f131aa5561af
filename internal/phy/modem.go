package phy

import (
	"strconv"
	"strings"
)

// command is one outstanding line written to the modem, together with the
// set of terminal responses that complete it (§4.1's command vocabulary
// table).
type command struct {
	line      string
	terminals []string
}

// matches reports whether line is an acceptable terminal response for c.
// Every terminal in the vocabulary table is either consumed outright
// ("ok", "radio_tx_ok", "radio_err", the mac-pause integer) or carries a
// payload after a fixed prefix ("radio_rx <hex>"), so prefix matching
// covers both cases.
func (c command) matches(line string) bool {
	for _, t := range c.terminals {
		if strings.HasPrefix(line, t) {
			return true
		}
	}
	return false
}

// radioRxPrefix is the modem's framing prefix on a received-frame line;
// the MAC frame's hex payload starts ten characters in.
const radioRxPrefix = "radio_rx  "

func isRadioRx(line string) bool  { return strings.HasPrefix(line, "radio_rx") }
func isRadioErr(line string) bool { return strings.HasPrefix(line, "radio_err") }

func macPauseCmd() command {
	return command{line: "mac pause", terminals: []string{"4294967245"}}
}

func radioSetCmd(param, value string) command {
	return command{line: "radio set " + param + " " + value, terminals: []string{"ok"}}
}

func radioTxCmd(hexPayload string) command {
	return command{line: "radio tx " + hexPayload, terminals: []string{"radio_tx_ok", "radio_err"}}
}

func radioRxCmd() command {
	return command{line: "radio rx 0", terminals: []string{"radio_rx", "radio_err"}}
}

func radioSetWdtCmd(ms int) command {
	return radioSetCmd("wdt", strconv.Itoa(ms))
}
