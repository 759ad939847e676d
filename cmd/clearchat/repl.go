package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"clearchat/internal/view"
)

type commandKind int

const (
	cmdSend commandKind = iota
	cmdContact
	cmdConversation
	cmdChats
	cmdBack
	cmdQuit
	cmdHelp
)

type command struct {
	kind  commandKind
	index int // 1-based, for contact and conversation picks
	text  string
}

// parseCommand interprets one input line. Numbers pick contacts and cN picks
// recent conversations only while browsing; in a conversation they are text.
func parseCommand(line string, state view.State) command {
	line = strings.TrimSpace(line)
	switch line {
	case "/quit", "/exit":
		return command{kind: cmdQuit}
	case "/back":
		return command{kind: cmdBack}
	case "/chats":
		return command{kind: cmdChats}
	case "/help", "?":
		return command{kind: cmdHelp}
	}
	if state == view.Browsing {
		if n, err := strconv.Atoi(line); err == nil && n > 0 {
			return command{kind: cmdContact, index: n}
		}
		if rest, ok := strings.CutPrefix(line, "c"); ok {
			if n, err := strconv.Atoi(rest); err == nil && n > 0 {
				return command{kind: cmdConversation, index: n}
			}
		}
	}
	return command{kind: cmdSend, text: line}
}

const helpText = `commands:
  N        open the conversation with contact N
  cN       open recent conversation N
  /chats   back to the contact list
  /back    leave the conversation
  /quit    exit
anything else is sent to the open conversation
`

func runREPL(ctx context.Context, v *view.View, in io.Reader, out io.Writer) error {
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-readCtx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line = <-lines:
		}

		cmd := parseCommand(line, v.State())
		switch cmd.kind {
		case cmdQuit:
			return nil
		case cmdHelp:
			fmt.Fprint(out, helpText)
		case cmdBack, cmdChats:
			v.Back()
		case cmdContact:
			contacts := v.Contacts()
			if cmd.index > len(contacts) {
				fmt.Fprintf(out, "no contact %d\n", cmd.index)
				continue
			}
			if err := v.SelectContact(ctx, contacts[cmd.index-1].ID); err != nil {
				fmt.Fprintf(out, "open conversation: %v\n", err)
			}
		case cmdConversation:
			recent := v.Recent()
			if cmd.index > len(recent) {
				fmt.Fprintf(out, "no conversation c%d\n", cmd.index)
				continue
			}
			if err := v.SelectConversation(ctx, recent[cmd.index-1].ID); err != nil {
				fmt.Fprintf(out, "open conversation: %v\n", err)
			}
		case cmdSend:
			if cmd.text == "" {
				continue
			}
			if v.State() != view.Chatting {
				fmt.Fprintln(out, "pick a contact first (/help)")
				continue
			}
			if v.Send(ctx, cmd.text) == nil {
				fmt.Fprintf(out, "not sent, draft kept: %s\n", v.Draft())
			}
		}
	}
}
