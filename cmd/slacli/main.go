package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/mark3748/intranet-portal/internal/escalation"
)

func main() {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	code := run(context.Background(), rdb, os.Args[1:], os.Stdout)
	_ = rdb.Close()
	os.Exit(code)
}

func run(ctx context.Context, rdb *redis.Client, args []string, out io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(out, "usage: slacli run|status")
		return 2
	}
	switch args[0] {
	case "run":
		id, err := escalation.Enqueue(ctx, rdb)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return 1
		}
		fmt.Fprintln(out, id)
	case "status":
		res, err := escalation.LastResult(ctx, rdb)
		if errors.Is(err, redis.Nil) {
			fmt.Fprintln(out, "no scan recorded")
			return 1
		}
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return 1
		}
		b, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(out, string(b))
	default:
		fmt.Fprintln(out, "unknown command")
		return 2
	}
	return 0
}
