package command

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/FalcoGer/pmp/internal/escape"
	"github.com/FalcoGer/pmp/internal/relay"
	"github.com/jpillora/sizestr"
)

func builtins() []*command {
	return []*command{
		{name: "help", usage: "{cmd} [command]", help: "Lists commands, or explains one.", run: cmdHelp},
		{name: "quit", usage: "{cmd}", help: "Stops the relay and exits.", aliases: []string{"exit"}, run: cmdQuit},
		{name: "lsproxy", usage: "{cmd}", help: "Lists all sessions. The selected one is marked with *.", run: cmdLsProxy},
		{name: "select", usage: "{cmd} <name|index>", help: "Selects the session other commands act on.", run: cmdSelect},
		{name: "disconnect", usage: "{cmd}", help: "Disconnects the client and the server of the selected session.", run: cmdDisconnect},
		{name: "sh", usage: "{cmd} <hex>", help: "Sends hex encoded bytes to the server. Spaces are ignored.\nExample: {cmd} 41 42 43 44", run: sendCmd(relay.RoleServer, hexPayload)},
		{name: "ch", usage: "{cmd} <hex>", help: "Sends hex encoded bytes to the client. Spaces are ignored.\nExample: {cmd} 41 42 43 44", run: sendCmd(relay.RoleClient, hexPayload)},
		{name: "ss", usage: "{cmd} <string>", help: "Sends a string to the server. Escapes like \\n, \\x41 and \\101 are expanded.", run: sendCmd(relay.RoleServer, stringPayload)},
		{name: "cs", usage: "{cmd} <string>", help: "Sends a string to the client. Escapes like \\n, \\x41 and \\101 are expanded.", run: sendCmd(relay.RoleClient, stringPayload)},
		{name: "sf", usage: "{cmd} <path>", help: "Sends the contents of a file to the server.", run: sendCmd(relay.RoleServer, filePayload)},
		{name: "cf", usage: "{cmd} <path>", help: "Sends the contents of a file to the client.", run: sendCmd(relay.RoleClient, filePayload)},
		{name: "hexdump", usage: "{cmd} [yes|no] [bytes per line] [bytes per group]", help: "Shows or changes how packets are dumped.", run: cmdHexdump},
		{name: "lssetting", usage: "{cmd} [key]", help: "Lists the settings of the selected session.", run: cmdLsSetting},
		{name: "setting", usage: "{cmd} <key> <value>", help: "Changes a setting of the selected session. Numbers take 0x, 0o and 0b prefixes.", run: cmdSetting},
	}
}

type payloadFunc func(d *Dispatcher, c call) ([]byte, error)

func hexPayload(_ *Dispatcher, c call) ([]byte, error) { return escape.DecodeHex(c.rest) }

func stringPayload(_ *Dispatcher, c call) ([]byte, error) { return escape.Expand(c.rest) }

func filePayload(d *Dispatcher, c call) ([]byte, error) {
	data, err := d.readFile(c.rest)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.rest, err)
	}
	return data, nil
}

// sendCmd builds the six send commands. The payload is decoded first so
// malformed input is reported even while idle; nothing is sent unless the
// session is connected.
func sendCmd(to relay.Role, payload payloadFunc) func(*Dispatcher, call) error {
	return func(d *Dispatcher, c call) error {
		if c.rest == "" {
			return c.usageError()
		}
		s, err := d.session()
		if err != nil {
			return err
		}
		data, err := payload(d, c)
		if err != nil {
			return err
		}
		if !s.Connected() {
			return relay.ErrNotConnected
		}
		s.SendData(to, data)
		return nil
	}
}

func cmdHelp(d *Dispatcher, c call) error {
	if len(c.args) > 1 {
		return c.usageError()
	}
	if len(c.args) == 1 {
		cmd, ok := d.commands[c.args[0]]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCommand, c.args[0])
		}
		d.printf("Usage: %s\n%s\n", expand(cmd.usage, c.args[0]), expand(cmd.help, c.args[0]))
		if len(cmd.aliases) > 0 {
			d.printf("Aliases: %s\n", strings.Join(append([]string{cmd.name}, cmd.aliases...), ", "))
		}
		return nil
	}
	tw := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	for _, name := range d.names {
		cmd := d.commands[name]
		first, _, _ := strings.Cut(expand(cmd.help, name), "\n")
		fmt.Fprintf(tw, "%s\t%s\n", expand(cmd.usage, name), first)
	}
	return tw.Flush()
}

func cmdQuit(_ *Dispatcher, c call) error {
	if len(c.args) != 0 {
		return c.usageError()
	}
	return ErrQuit
}

func cmdLsProxy(d *Dispatcher, c call) error {
	if len(c.args) != 0 {
		return c.usageError()
	}
	selected := d.reg.Selected()
	tw := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	for i, s := range d.reg.List() {
		st := s.Status()
		mark := " "
		if s == selected {
			mark = "*"
		}
		peers := "-"
		if st.Client != "" {
			peers = st.Client + " -> " + st.Server
			if st.Server == "" {
				peers = st.Client + " -> (connecting)"
			}
		}
		fmt.Fprintf(tw, "%s %d\t%s\t%s\t%s\t%s\t%s / %s\n", mark, i, st.Name, st.Mapping, st.State, peers,
			sizestr.ToString(st.ClientBytes), sizestr.ToString(st.ServerBytes))
	}
	return tw.Flush()
}

func cmdSelect(d *Dispatcher, c call) error {
	if len(c.args) != 1 {
		return c.usageError()
	}
	s, err := d.reg.Select(c.args[0])
	if err != nil {
		return err
	}
	d.printf("Selected %s (%s).\n", s.Name(), s.Mapping())
	return nil
}

func cmdDisconnect(d *Dispatcher, c call) error {
	if len(c.args) != 0 {
		return c.usageError()
	}
	s, err := d.session()
	if err != nil {
		return err
	}
	return s.Disconnect()
}

func cmdHexdump(d *Dispatcher, c call) error {
	if len(c.args) > 3 {
		return c.usageError()
	}
	s, err := d.session()
	if err != nil {
		return err
	}
	if len(c.args) == 0 {
		h := s.Settings().Hook
		state := "off"
		if h.Hexdump {
			state = "on"
		}
		d.printf("Hexdump is %s, %d bytes per line, %d bytes per group.\n", state, h.BytesPerLine, h.BytesPerGroup)
		return nil
	}
	on, err := relay.ParseSetting(relay.KeyHexdump, c.args[0])
	if err != nil {
		return err
	}
	nums := make([]int, 0, 2)
	for _, a := range c.args[1:] {
		n, err := escape.ParseInt(a)
		if err != nil {
			return err
		}
		nums = append(nums, n)
	}
	return s.UpdateSettings(func(st *relay.Settings) error {
		st.Hook.Hexdump = on.(bool)
		if len(nums) > 0 {
			st.Hook.BytesPerLine = nums[0]
		}
		if len(nums) > 1 {
			st.Hook.BytesPerGroup = nums[1]
		}
		return nil
	})
}

func cmdLsSetting(d *Dispatcher, c call) error {
	if len(c.args) > 1 {
		return c.usageError()
	}
	s, err := d.session()
	if err != nil {
		return err
	}
	keys := relay.SettingKeys()
	if len(c.args) == 1 {
		keys = []relay.SettingKey{relay.SettingKey(c.args[0])}
	}
	st := s.Settings()
	for _, k := range keys {
		v, err := st.Get(k)
		if err != nil {
			return err
		}
		d.printf("%s = %s\n", k, formatValue(v))
	}
	return nil
}

func cmdSetting(d *Dispatcher, c call) error {
	if len(c.args) != 2 {
		return c.usageError()
	}
	s, err := d.session()
	if err != nil {
		return err
	}
	key := relay.SettingKey(c.args[0])
	v, err := relay.ParseSetting(key, c.args[1])
	if err != nil {
		return err
	}
	if err := s.SetSetting(key, v); err != nil {
		return err
	}
	d.printf("%s = %s\n", key, formatValue(v))
	return nil
}

func formatValue(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "yes"
		}
		return "no"
	}
	return fmt.Sprint(v)
}
