package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ergochat/readline"
	"github.com/vedradb/vedra"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("create"),
	readline.PcItem("drop"),
	readline.PcItem("set"),
	readline.PcItem("del"),
	readline.PcItem("get"),
	readline.PcItem("match"),
	readline.PcItem("scan"),
	readline.PcItem("rules"),
	readline.PcItem("docs"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

const usage = `commands:
  create <index> <field>... RULE <arg>...  create an index with rule args
                                           (ON hash, PREFIX n p.., FILTER expr,
                                            SCORE f, LANGUAGE f, PAYLOAD f)
  drop <index>                             drop an index
  set <key> <field> <value> [f v]...       write record fields
  del <key>                                remove a record
  get <key> <field>                        read one field
  match <key>                              show which indexes would take the key
  scan                                     reindex records missed by new indexes
  rules                                    list registered rules
  docs <index>                             show an index's document table
  exit`

func createIndex(v *vedra.Vedra, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: create <index> <field>... RULE <arg>...")
	}
	name := args[0]
	args = args[1:]
	var fields, ruleArgs []string
	for i, arg := range args {
		if strings.EqualFold(arg, "RULE") {
			ruleArgs = args[i+1:]
			break
		}
		fields = append(fields, arg)
	}
	_, err := v.CreateIndex(name, vedra.IndexOptions{}, ruleArgs, fields...)
	return err
}

func setFields(v *vedra.Vedra, args []string) error {
	if len(args) < 3 || len(args)%2 == 0 {
		return fmt.Errorf("usage: set <key> <field> <value> [f v]...")
	}
	fields := make(map[string]string)
	for i := 1; i+1 < len(args); i += 2 {
		fields[args[i]] = args[i+1]
	}
	return v.SetFields(context.Background(), args[0], fields)
}

func showMatches(v *vedra.Vedra, key string) error {
	matches, err := v.Match(key)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s\tscore=%g lang=%s\n", m.Index.Name, m.Attrs.Score, m.Attrs.Language)
	}
	return nil
}

func showRules(v *vedra.Vedra) {
	for _, ix := range v.Indexes() {
		mode := "sync"
		if ix.Async {
			mode = "async"
		}
		fmt.Printf("%s\t%s\tfields=%s\n", ix.Name, mode, strings.Join(ix.Fields, ","))
	}
}

func showDocs(v *vedra.Vedra, name string) error {
	ix, ok := v.GetIndex(name)
	if !ok {
		return vedra.ErrIndexUnknown
	}
	for id := uint64(1); id <= ix.Docs.MaxID(); id++ {
		if doc, ok := ix.Docs.Get(id); ok {
			fmt.Printf("%d\t%s\tscore=%g\n", id, doc.Key, doc.Score)
		}
	}
	fmt.Printf("%d documents\n", ix.Docs.Size())
	return nil
}

func main() {
	if len(os.Args) != 2 {
		_, _ = fmt.Fprintln(os.Stderr, "Usage: vedra <dir>")
		os.Exit(-2)
	}

	l, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     "/tmp/vedra.history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	v, err := vedra.Open(os.Args[1], vedra.Options{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}

	ctx := context.Background()
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			} else {
				continue
			}
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		args := strings.Split(line, " ")
		cmd := args[0]
		args = args[1:]
		err = nil
		switch cmd {
		case "help":
			fmt.Println(usage)
		case "create":
			err = createIndex(v, args)
		case "drop":
			if len(args) != 1 {
				err = fmt.Errorf("usage: drop <index>")
			} else {
				err = v.DropIndex(args[0])
			}
		case "set":
			err = setFields(v, args)
		case "del":
			if len(args) != 1 {
				err = fmt.Errorf("usage: del <key>")
			} else {
				err = v.RemoveKey(ctx, args[0], vedra.RemovedDeleted)
			}
		case "get":
			if len(args) != 2 {
				err = fmt.Errorf("usage: get <key> <field>")
			} else {
				val, ok, gerr := v.GetField(args[0], args[1])
				err = gerr
				if err == nil && !ok {
					fmt.Println("(absent)")
				} else if err == nil {
					fmt.Println(val)
				}
			}
		case "match":
			if len(args) != 1 {
				err = fmt.Errorf("usage: match <key>")
			} else {
				err = showMatches(v, args[0])
			}
		case "scan":
			err = v.ScanAndReindex(ctx)
		case "rules":
			showRules(v)
		case "docs":
			if len(args) != 1 {
				err = fmt.Errorf("usage: docs <index>")
			} else {
				err = showDocs(v, args[0])
			}
		case "exit", "quit":
			ex := 0
			if err = v.Close(); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err.Error())
				ex = -1
			}
			os.Exit(ex)
		default:
			_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}

		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error executing %s: %s\n", cmd, err.Error())
		}
	}
	_ = v.Close()
}
