package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dd0wney/kvlite"
)

type CLI struct {
	db      *kvlite.DB
	scanner *bufio.Scanner
	sync    bool
}

func main() {
	dataDir := flag.String("data", "./data/cli", "Data directory")
	sync := flag.Bool("sync", false, "fsync the WAL on every write")
	flag.Parse()

	fmt.Printf("📂 Opening database at %s...\n", *dataDir)
	db, err := kvlite.Open(kvlite.DefaultOptions(*dataDir))
	if err != nil {
		fmt.Printf("❌ Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	fmt.Println("✅ Database loaded")

	cli := &CLI{
		db:      db,
		scanner: bufio.NewScanner(os.Stdin),
	}
	cli.sync = *sync

	fmt.Println("Type 'help' for available commands, 'exit' to quit")
	fmt.Println()

	cli.run()
}

func (cli *CLI) run() {
	for {
		fmt.Print("kvlite> ")

		if !cli.scanner.Scan() {
			break
		}

		input := strings.TrimSpace(cli.scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("👋 Goodbye!")
			break
		}

		cli.executeCommand(input)
	}
}

func (cli *CLI) executeCommand(input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}
	command := strings.ToLower(parts[0])

	switch command {
	case "help":
		cli.showHelp()

	case "get":
		if len(parts) != 2 {
			fmt.Println("Usage: get <key>")
			return
		}
		cli.get(parts[1])

	case "set":
		if len(parts) < 3 {
			fmt.Println("Usage: set <key> <value>")
			return
		}
		cli.set(parts[1], strings.Join(parts[2:], " "))

	case "remove", "rm", "del":
		if len(parts) != 2 {
			fmt.Println("Usage: remove <key>")
			return
		}
		cli.remove(parts[1])

	case "scan":
		if len(parts) != 3 {
			fmt.Println("Usage: scan <lo> <hi>")
			return
		}
		cli.scan(parts[1], parts[2])

	case "iter":
		cli.iterate()

	case "clear":
		fmt.Print("\033[H\033[2J")

	default:
		fmt.Printf("❌ Unknown command: %s (type 'help' for available commands)\n", command)
	}
}

func (cli *CLI) showHelp() {
	help := `
📖 Available Commands:

  get <key>             Look up a key
  set <key> <value>     Write a key/value pair
  remove <key>          Delete a key
  scan <lo> <hi>        List every live key in [lo, hi]
  iter                  Walk the whole database in key order
  clear                 Clear screen
  help                  Show this help
  exit/quit             Exit the CLI
`
	fmt.Println(help)
}

func (cli *CLI) get(key string) {
	start := time.Now()
	v, found, err := cli.db.Get([]byte(key))
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	if !found {
		fmt.Printf("(not found) [%v]\n", time.Since(start))
		return
	}
	fmt.Printf("%s [%v]\n", v, time.Since(start))
}

func (cli *CLI) set(key, value string) {
	start := time.Now()
	err := cli.db.Set(kvlite.WriteOptions{Sync: cli.sync}, []byte(key), []byte(value))
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Printf("✅ set in %v\n", time.Since(start))
}

func (cli *CLI) remove(key string) {
	start := time.Now()
	err := cli.db.Remove(kvlite.WriteOptions{Sync: cli.sync}, []byte(key))
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Printf("✅ removed in %v\n", time.Since(start))
}

func (cli *CLI) scan(lo, hi string) {
	start := time.Now()
	kvs, err := cli.db.RangeGet([]byte(lo), []byte(hi))
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	for _, kv := range kvs {
		fmt.Printf("%-20s %s\n", kv.Key, kv.Value)
	}
	fmt.Printf("%d rows [%v]\n", len(kvs), time.Since(start))
}

func (cli *CLI) iterate() {
	start := time.Now()
	it, err := cli.db.Iterator()
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	defer it.Close()

	count := 0
	for it.Next() {
		fmt.Printf("%-20s %s\n", it.Key(), it.Value())
		count++
	}
	if err := it.Err(); err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Printf("%d rows [%v]\n", count, time.Since(start))
}
