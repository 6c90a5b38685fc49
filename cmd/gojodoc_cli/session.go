package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sushant-115/gojodoc/core/document"
	"github.com/sushant-115/gojodoc/core/transaction"
)

// session holds the state of one shell: the service it drives and the
// transaction that tx commands run under.
type session struct {
	ctx     context.Context
	actions *transaction.Actions
	out     io.Writer
	timeout time.Duration
	current *transaction.Information
}

func newSession(ctx context.Context, actions *transaction.Actions, out io.Writer, timeout time.Duration) *session {
	return &session{ctx: ctx, actions: actions, out: out, timeout: timeout}
}

// processCommand runs one command line. It reports false when the shell
// should exit.
func (s *session) processCommand(args []string) bool {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Error: No command provided.")
		return true
	}

	command := strings.ToLower(args[0])
	switch command {
	case "put":
		key, etag, data, ok := s.parseWrite("put", args)
		if !ok {
			return true
		}
		newEtag, err := s.actions.AddDocument(s.ctx, key, etag, data, nil)
		s.report("Put", key, err, "etag=%s", newEtag)
	case "get":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "Error: get command requires a key.")
			return true
		}
		s.get(args[1])
	case "delete":
		key, etag, ok := s.parseDelete("delete", args)
		if !ok {
			return true
		}
		deleted, err := s.actions.DeleteDocument(s.ctx, key, etag)
		s.report("Delete", key, err, "deleted=%t", deleted)
	case "begin":
		timeout := s.timeout
		if len(args) > 1 {
			d, err := time.ParseDuration(args[1])
			if err != nil || d <= 0 {
				fmt.Fprintf(s.out, "Error: invalid timeout %q.\n", args[1])
				return true
			}
			timeout = d
		}
		s.current = &transaction.Information{ID: uuid.New(), Timeout: timeout}
		fmt.Fprintf(s.out, "Began transaction %s (timeout %s)\n", s.current.ID, timeout)
	case "use":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "Error: use command requires a transaction id.")
			return true
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			fmt.Fprintf(s.out, "Error: invalid transaction id %q.\n", args[1])
			return true
		}
		s.current = &transaction.Information{ID: id, Timeout: s.timeout}
		fmt.Fprintf(s.out, "Using transaction %s\n", id)
	case "txput":
		if !s.requireTransaction() {
			return true
		}
		key, etag, data, ok := s.parseWrite("txput", args)
		if !ok {
			return true
		}
		newEtag, err := s.actions.AddDocumentInTransaction(s.ctx, key, etag, data, nil, *s.current)
		s.report("Staged put", key, err, "etag=%s", newEtag)
	case "txdelete":
		if !s.requireTransaction() {
			return true
		}
		key, etag, ok := s.parseDelete("txdelete", args)
		if !ok {
			return true
		}
		err := s.actions.DeleteDocumentInTransaction(s.ctx, *s.current, key, etag)
		s.report("Staged delete", key, err, "tx=%s", s.current.ID)
	case "commit", "rollback":
		id, ok := s.targetTransaction(command, args)
		if !ok {
			return true
		}
		var err error
		label := "Commit"
		if command == "commit" {
			err = s.actions.CommitTransaction(s.ctx, id)
		} else {
			label = "Rollback"
			err = s.actions.RollbackTransaction(s.ctx, id)
		}
		if s.current != nil && s.current.ID == id {
			s.current = nil
		}
		if err != nil {
			fmt.Fprintf(s.out, "Error: %s of %s: %v\n", command, id, err)
			return true
		}
		fmt.Fprintf(s.out, "%s %s ok\n", label, id)
	case "rename":
		if !s.requireTransaction() {
			return true
		}
		to := uuid.New()
		if len(args) > 1 {
			parsed, err := uuid.Parse(args[1])
			if err != nil {
				fmt.Fprintf(s.out, "Error: invalid transaction id %q.\n", args[1])
				return true
			}
			to = parsed
		}
		if err := s.actions.ModifyTransactionID(s.ctx, s.current.ID, to, s.current.Timeout); err != nil {
			fmt.Fprintf(s.out, "Error: rename of %s: %v\n", s.current.ID, err)
			return true
		}
		fmt.Fprintf(s.out, "Renamed transaction %s to %s\n", s.current.ID, to)
		s.current = &transaction.Information{ID: to, Timeout: s.current.Timeout}
	case "txs":
		ids, err := s.actions.GetTransactionIDs(s.ctx)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return true
		}
		fmt.Fprintf(s.out, "%d open transactions\n", len(ids))
		for _, id := range ids {
			marker := " "
			if s.current != nil && s.current.ID == id {
				marker = "*"
			}
			fmt.Fprintf(s.out, "%s %s\n", marker, id)
		}
	case "help":
		s.help()
	case "exit", "quit":
		fmt.Fprintln(s.out, "Exiting gojodoc CLI.")
		return false
	default:
		fmt.Fprintln(s.out, "Error: Unknown command. Type 'help' for a list of commands.")
	}
	return true
}

func (s *session) get(key string) {
	doc, err := s.actions.DocumentByKey(s.ctx, key, s.current)
	if err != nil {
		fmt.Fprintf(s.out, "Error: get %s: %v\n", key, err)
		return
	}
	if doc == nil {
		fmt.Fprintf(s.out, "Not found: %s\n", key)
		return
	}
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		fmt.Fprintf(s.out, "Error: get %s: %v\n", key, err)
		return
	}
	fmt.Fprintf(s.out, "%s etag=%s", key, doc.Etag)
	if doc.NonAuthoritative {
		fmt.Fprint(s.out, " (non-authoritative)")
	}
	fmt.Fprintf(s.out, "\n%s\n", raw)
}

func (s *session) help() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  put <key> [etag=<etag>] <json>")
	fmt.Fprintln(s.out, "  get <key>")
	fmt.Fprintln(s.out, "  delete <key> [etag=<etag>]")
	fmt.Fprintln(s.out, "  begin [timeout]")
	fmt.Fprintln(s.out, "  use <txid>")
	fmt.Fprintln(s.out, "  txput <key> [etag=<etag>] <json>")
	fmt.Fprintln(s.out, "  txdelete <key> [etag=<etag>]")
	fmt.Fprintln(s.out, "  commit [txid]")
	fmt.Fprintln(s.out, "  rollback [txid]")
	fmt.Fprintln(s.out, "  rename [new txid]")
	fmt.Fprintln(s.out, "  txs")
	fmt.Fprintln(s.out, "  help")
	fmt.Fprintln(s.out, "  exit / quit")
}

func (s *session) report(what, key string, err error, format string, args ...interface{}) {
	if err != nil {
		fmt.Fprintf(s.out, "Error: %s %s: %v\n", strings.ToLower(what), key, err)
		return
	}
	fmt.Fprintf(s.out, "%s %s ok %s\n", what, key, fmt.Sprintf(format, args...))
}

func (s *session) requireTransaction() bool {
	if s.current == nil {
		fmt.Fprintln(s.out, "Error: no transaction in use. Run 'begin' or 'use <txid>' first.")
		return false
	}
	return true
}

func (s *session) targetTransaction(command string, args []string) (uuid.UUID, bool) {
	if len(args) > 1 {
		id, err := uuid.Parse(args[1])
		if err != nil {
			fmt.Fprintf(s.out, "Error: invalid transaction id %q.\n", args[1])
			return uuid.Nil, false
		}
		return id, true
	}
	if s.current == nil {
		fmt.Fprintf(s.out, "Error: %s requires a transaction id or a transaction in use.\n", command)
		return uuid.Nil, false
	}
	return s.current.ID, true
}

// parseEtag consumes an optional etag=<uuid> argument at args[i].
func (s *session) parseEtag(args []string, i int) (*uuid.UUID, int, bool) {
	if i >= len(args) || !strings.HasPrefix(args[i], "etag=") {
		return nil, i, true
	}
	etag, err := uuid.Parse(strings.TrimPrefix(args[i], "etag="))
	if err != nil {
		fmt.Fprintf(s.out, "Error: invalid etag %q.\n", args[i])
		return nil, i, false
	}
	return &etag, i + 1, true
}

func (s *session) parseWrite(command string, args []string) (string, *uuid.UUID, document.Document, bool) {
	if len(args) < 3 {
		fmt.Fprintf(s.out, "Error: %s command requires a key and a JSON object.\n", command)
		return "", nil, nil, false
	}
	etag, next, ok := s.parseEtag(args, 2)
	if !ok {
		return "", nil, nil, false
	}
	if next >= len(args) {
		fmt.Fprintf(s.out, "Error: %s command requires a JSON object.\n", command)
		return "", nil, nil, false
	}
	var data document.Document
	dec := json.NewDecoder(strings.NewReader(strings.Join(args[next:], " ")))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		fmt.Fprintf(s.out, "Error: invalid JSON object: %v\n", err)
		return "", nil, nil, false
	}
	if dec.More() {
		fmt.Fprintln(s.out, "Error: invalid JSON object: unexpected data after the object")
		return "", nil, nil, false
	}
	return args[1], etag, data, true
}

func (s *session) parseDelete(command string, args []string) (string, *uuid.UUID, bool) {
	if len(args) < 2 {
		fmt.Fprintf(s.out, "Error: %s command requires a key.\n", command)
		return "", nil, false
	}
	etag, _, ok := s.parseEtag(args, 2)
	return args[1], etag, ok
}
