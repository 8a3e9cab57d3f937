package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if err := executeCLI(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("streamwsm - track development streams across git worktrees")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  streamwsm init-config [--path .streamwsm/config.json]")
	fmt.Println("  streamwsm create --title \"Add billing\" [--category backend] [--priority high]")
	fmt.Println("  streamwsm list [--status active] [--category backend] [--priority high]")
	fmt.Println("  streamwsm show --id STREAM_ID")
	fmt.Println("  streamwsm update --id STREAM_ID [--status blocked] [--progress 40] ...")
	fmt.Println("  streamwsm complete --id STREAM_ID")
	fmt.Println("  streamwsm history --id STREAM_ID")
	fmt.Println("  streamwsm sync")
	fmt.Println("  streamwsm reconcile [--dry-run] [--archive-stale]")
	fmt.Println("  streamwsm archive --id STREAM_ID [--id OTHER_ID] [--summary \"...\"] [--delete-worktree]")
	fmt.Println("  streamwsm stats")
	fmt.Println("  streamwsm discover")
	fmt.Println("  streamwsm serve [--port 4611]")
}
