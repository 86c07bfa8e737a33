package sh

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/flightlink/pkg/cmdset"
	"github.com/robotalks/flightlink/pkg/env"
	"github.com/robotalks/flightlink/pkg/link"
	"github.com/robotalks/flightlink/pkg/payload/mfio"
	"github.com/robotalks/flightlink/pkg/payload/mission"
)

// Shell provides ishell backed interactive console to the link.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	// Watch prints pushes as they arrive.
	Watch bool

	Shell  *ishell.Shell
	Config *env.Config
	Conn   *Conn
}

// Conn is a running Dispatcher on an open transport.
type Conn struct {
	Ctx        context.Context
	Cancel     func()
	Transport  string
	Dispatcher *link.Dispatcher
	MFIO       *mfio.MFIO
	Mission    *mission.Mission

	doneCh chan struct{}
}

// Wait waits until the Dispatcher stops.
func (c *Conn) Wait() {
	<-c.doneCh
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

// CommandTimeout bounds a single shell command.
var CommandTimeout = 2 * time.Second

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&StatsCmd,
		&WatchCmd,
		&SendCmd,
		&CommandsCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// ConnFrom gets the current connection from ishell context.
func ConnFrom(c *ishell.Context) *Conn {
	return ShellFrom(c).Conn
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// DoCommand runs a command with CommandTimeout and prints the result.
// A nil result prints OK.
func DoCommand(c *ishell.Context, fn func(ctx context.Context) (interface{}, error)) error {
	s := ShellFrom(c)
	if s.Conn == nil {
		err := fmt.Errorf("not connected")
		c.Err(err)
		return err
	}
	ctx, cancel := context.WithTimeout(s.Conn.Ctx, CommandTimeout)
	defer cancel()
	res, err := fn(ctx)
	if err != nil {
		c.Err(err)
		return err
	}
	if s.OutputJSON {
		if res == nil {
			res = map[string]string{"result": "OK"}
		}
		out, err := json.Marshal(res)
		if err != nil {
			c.Err(err)
			return err
		}
		c.Println(string(out))
		return nil
	}
	if res == nil {
		c.Println("OK")
		return nil
	}
	c.Printf("%v\n", res)
	return nil
}

// ArgUint parses c.Args[n] as an unsigned integer, 0x prefix is accepted.
func ArgUint(c *ishell.Context, n int, name string, bitSize int) (uint64, error) {
	if n >= len(c.Args) {
		return 0, fmt.Errorf("%s required", name)
	}
	val, err := strconv.ParseUint(c.Args[n], 0, bitSize)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return val, nil
}

// ParseCommand resolves a command by registry name or "SET:ID".
func ParseCommand(reg *cmdset.Registry, s string) (cmdset.ID, error) {
	if spec, ok := reg.ByName(s); ok {
		return spec.ID, nil
	}
	return cmdset.ParseID(s)
}

// ParseHex decodes a payload, spaces and colons are ignored.
func ParseHex(args ...string) ([]byte, error) {
	str := strings.NewReplacer(" ", "", ":", "").Replace(strings.Join(args, ""))
	return hex.DecodeString(str)
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect opens the transport and starts a Dispatcher on it.
// Empty transport uses the configured one.
func (s *Shell) Connect(transport string) error {
	conf := *s.Config
	if transport != "" {
		conf.Transport = transport
	}
	rw, err := conf.NewTransport()
	if err != nil {
		return err
	}
	d := conf.NewDispatcher(rw)
	conn := &Conn{
		Transport:  conf.Transport,
		Dispatcher: d,
		MFIO:       mfio.New(d),
		Mission:    mission.New(d),
		doneCh:     make(chan struct{}),
	}
	conn.Ctx, conn.Cancel = context.WithCancel(context.Background())
	conn.Mission.Subscribe(d.Router())
	conn.Mission.OnState(func(prev mission.State, st mission.Status) {
		if s.Watch {
			s.Shell.Printf("mission: %s -> %s waypoint=%d velocity=%d\n", prev, st.State, st.Waypoint, st.Velocity)
		}
	})
	conn.Mission.OnEvent(func(ev mission.Event) {
		if s.Watch {
			s.Shell.Printf("mission event %d at %d: %x\n", ev.ID, ev.Timestamp, ev.Data)
		}
	})
	for _, cat := range []cmdset.Category{cmdset.CategoryTelemetry, cmdset.CategoryFlightStatus, cmdset.CategoryPayloadInfo} {
		d.Router().RegisterFunc(cat, s.printPush)
	}

	s.Disconnect()
	s.Conn = conn
	go func() {
		defer close(conn.doneCh)
		if err := d.Run(conn.Ctx); err != nil && err != context.Canceled {
			glog.Warningf("link %s stopped: %v", conn.Transport, err)
		}
	}()
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", conf.LinkID))
	return nil
}

// Disconnect stops the current Dispatcher and closes its transport.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Cancel()
		s.Conn.Wait()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

func (s *Shell) printPush(ctx context.Context, cat cmdset.Category, data []byte) {
	if s.Watch {
		s.Shell.Printf("%s: %x\n", cat, data)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Transport)
		}
		if err := s.Connect(""); err != nil {
			glog.Exitf("connect %q failed: %v", s.Config.Transport, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			glog.Exit(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	glog.Exit("command expected")
}

var (
	// ConnectCmd connects the link.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[TRANSPORT_URL]",
		Func: func(c *ishell.Context) {
			var transport string
			if len(c.Args) > 0 {
				transport = c.Args[0]
			}
			if err := ShellFrom(c).Connect(transport); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects the link.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// StatsCmd prints link counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context) {
			d := ConnFrom(c).Dispatcher
			if ShellFrom(c).OutputJSON {
				out, err := json.Marshal(d.Stats())
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			c.Printf("%s outstanding=%d\n", d.Stats(), d.Outstanding())
		}),
	}

	// WatchCmd toggles printing pushes.
	WatchCmd = ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "[on|off]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) == 0 {
				s.Watch = !s.Watch
			} else {
				switch c.Args[0] {
				case "on":
					s.Watch = true
				case "off":
					s.Watch = false
				default:
					c.Err(fmt.Errorf("on or off expected"))
					return
				}
			}
			c.Printf("watch %v\n", s.Watch)
		},
	}

	// SendCmd sends a raw request and prints the ack payload.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "NAME|SET:ID [HEX_PAYLOAD]",
		Func: MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("command required"))
				return
			}
			d := ConnFrom(c).Dispatcher
			id, err := ParseCommand(d.Registry, c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			payload, err := ParseHex(c.Args[1:]...)
			if err != nil {
				c.Err(fmt.Errorf("invalid payload: %v", err))
				return
			}
			DoCommand(c, func(ctx context.Context) (interface{}, error) {
				data, err := d.SendSync(ctx, id, payload, CommandTimeout)
				if err != nil {
					return nil, err
				}
				return hex.EncodeToString(data), nil
			})
		}),
	}

	// CommandsCmd lists the command table.
	CommandsCmd = ishell.Cmd{
		Name: "commands",
		Help: "",
		Func: func(c *ishell.Context) {
			for _, spec := range cmdset.NewDefaultRegistry().Specs() {
				c.Printf("%s %-8s %s\n", spec.ID, spec.Kind, spec.Name)
			}
		},
	}
)

// Main is a helper to provide a single call in main, env.SetupFlags must
// be called before.
func Main() {
	flag.Parse()
	New(env.MustLoad()).WithAutoConnect(true).Run(flag.Args()...)
}
