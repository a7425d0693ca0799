package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hive-corporation/threatdeck/internal/adapter/handler"
)

const defaultGRPCAddr = "localhost:50051"

var majorSuffix = regexp.MustCompile(`/v[0-9]+$`)

// goModDependencies returns the module paths required by a go.mod file,
// without their major version suffix.
func goModDependencies(r io.Reader) ([]string, error) {
	var (
		deps    []string
		inBlock bool
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "//"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch {
		case inBlock && parts[0] == ")":
			inBlock = false
			continue
		case parts[0] == "require" && len(parts) == 2 && parts[1] == "(":
			inBlock = true
			continue
		case parts[0] == "require" && len(parts) >= 3:
			parts = parts[1:]
		case !inBlock:
			continue
		}
		if len(parts) < 2 {
			continue
		}
		deps = append(deps, majorSuffix.ReplaceAllString(parts[0], ""))
	}
	return deps, scanner.Err()
}

func newScanCmd(st *cliState) *cobra.Command {
	var (
		file     string
		addr     string
		minScore int32
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Check the dependencies of a go.mod against the intelligence database over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = st.cfg.GRPC.ListenAddr
			}
			if addr == "" {
				addr = defaultGRPCAddr
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("error reading file: %w", err)
			}
			defer f.Close()
			deps, err := goModDependencies(f)
			if err != nil {
				return fmt.Errorf("error parsing %s: %w", file, err)
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("error connecting to ThreatDeck: %w", err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "🔍 analyzing %s against Intelligence Database at %s...\n\n", file, addr)
			found, err := scanDependencies(ctx, out, handler.NewThreatIntelClient(conn), deps, minScore, st.logger)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "------------------------------------------------")
			if found > 0 {
				fmt.Fprintf(out, "❌ FAIL: %d malicious dependencies found.\n", found)
				return errThreatsFound
			}
			fmt.Fprintf(out, "✅ SUCCESS: %d dependencies checked. No threats found.\n", len(deps))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "go.mod", "path to the go.mod to scan")
	cmd.Flags().StringVar(&addr, "grpc", "", "gRPC address (default grpc.listen_addr or "+defaultGRPCAddr+")")
	cmd.Flags().Int32Var(&minScore, "min-score", 1, "confidence score at which a known dependency fails the scan")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "upper bound for the whole scan")
	return cmd
}

type iocChecker interface {
	CheckIOC(ctx context.Context, value string, opts ...grpc.CallOption) (*structpb.Struct, error)
}

func scanDependencies(ctx context.Context, out io.Writer, checker iocChecker, deps []string, minScore int32, logger *zap.Logger) (int, error) {
	found := 0
	for _, dep := range deps {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		resp, err := checker.CheckIOC(ctx, dep)
		if err != nil {
			logger.Warn("⚠️ error checking dependency", zap.String("dependency", dep), zap.Error(err))
			continue
		}
		var res handler.CheckResult
		if err := handler.FromStruct(resp, &res); err != nil {
			return found, fmt.Errorf("decode CheckIOC response: %w", err)
		}

		if res.Exists && res.ConfidenceScore >= minScore {
			fmt.Fprintf(out, "🚨 [BLOCKED] %s -> %s (Score: %d)\n", dep, strings.Join(res.Sources, ", "), res.ConfidenceScore)
			found++
		} else {
			fmt.Fprintf(out, "✅ [CLEAN] %s\n", dep)
		}
	}
	return found, nil
}
