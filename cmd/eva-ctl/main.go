package main

import (
	"fmt"
	"os"
	"strings"

	cli "github.com/spf13/pflag"

	"eva/internal/ipc"
)

const usage = `usage: eva-ctl [flags] <command> [text...]

commands:
  normalize <text>   rewrite spoken numbers, dates and amounts as digits
  reply <text>       process an assistant message as the web client would
  summary <text>     extract payment-summary cards from a message
  status             show daemon status
`

func main() {
	socket := cli.StringP("socket", "s", ipc.SocketPath, "Daemon socket path")
	conv := cli.StringP("conversation", "c", "", "Conversation id for reply")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		cli.Usage()
		os.Exit(2)
	}

	reply, err := ipc.SendCommand(*socket, ipc.ControlMessage{
		Cmd:            args[0],
		Text:           strings.Join(args[1:], " "),
		ConversationID: *conv,
	})
	if err != nil {
		fmt.Println("eva-daemon not running:", err)
		os.Exit(1)
	}
	if reply.Error != "" {
		fmt.Fprintln(os.Stderr, reply.Error)
		os.Exit(1)
	}

	fmt.Println(reply.Text)
}
