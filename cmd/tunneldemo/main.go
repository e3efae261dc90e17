// Command tunneldemo exercises the library end to end: it connects to a
// remote host, runs a command, optionally uploads a file over SCP, and
// optionally starts a port forward, all configured from flags (or the
// matching environment variables when a flag is left at its default).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"sshtunnel/internal/forward"
	"sshtunnel/internal/ssh"
)

func main() {
	var (
		target    = flag.String("target", getEnv("TUNNEL_TARGET", ""), "user@host[:port] to connect to")
		password  = flag.String("password", getEnv("TUNNEL_PASSWORD", ""), "password auth (omit to use ssh-agent)")
		cmd       = flag.String("cmd", getEnv("TUNNEL_CMD", "uname -a"), "command to run on the remote host")
		uploadSrc = flag.String("upload", getEnv("TUNNEL_UPLOAD", ""), "local file to upload via scp, optional")
		uploadDst = flag.String("upload-dest", getEnv("TUNNEL_UPLOAD_DEST", ""), "remote destination for -upload")
		listen    = flag.String("listen", getEnv("TUNNEL_LISTEN", ""), "local address or unix socket path to forward, optional")
		remote    = flag.String("remote", getEnv("TUNNEL_REMOTE", ""), "remote host:port the forward connects to")
		debug     = flag.Bool("debug", getEnvBool("TUNNEL_DEBUG", false), "enable debug logging")
	)
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetOutput(os.Stdout)

	if *target == "" {
		logrus.Fatal("-target (or TUNNEL_TARGET) is required")
	}

	authMode := ssh.AgentAuth()
	if *password != "" {
		authMode = ssh.PasswordAuth(*password)
	}
	creds, err := ssh.TryParse(*target, authMode)
	if err != nil {
		logrus.WithError(err).Fatal("could not parse -target")
	}

	pool := ssh.NewPool()
	defer pool.Close()

	facade := pool.GetOrCreate(creds)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	result, err := facade.Execute(ctx, *cmd)
	cancel()
	if err != nil {
		logrus.WithError(err).Fatal("command execution failed")
	}
	fmt.Printf("exit=%d\n%s", result.ExitCode, result.Stdout)
	if len(result.Stderr) > 0 {
		fmt.Fprintf(os.Stderr, "%s", result.Stderr)
	}

	if *uploadSrc != "" {
		if *uploadDst == "" {
			logrus.Fatal("-upload requires -upload-dest")
		}
		data, err := os.ReadFile(*uploadSrc)
		if err != nil {
			logrus.WithError(err).Fatal("could not read local upload source")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = facade.Upload(ctx, *uploadDst, data, 0o644)
		cancel()
		if err != nil {
			logrus.WithError(err).Fatal("upload failed")
		}
		logrus.WithField("dest", *uploadDst).Info("upload complete")
	}

	var tunnel *forward.Tunnel
	if *listen != "" {
		if *remote == "" {
			logrus.Fatal("-listen requires -remote")
		}
		remoteHost, remotePortStr, err := splitHostPort(*remote)
		if err != nil {
			logrus.WithError(err).Fatal("could not parse -remote")
		}
		remotePort, err := strconv.Atoi(remotePortStr)
		if err != nil {
			logrus.WithError(err).Fatal("-remote port must be numeric")
		}

		engine := forward.NewEngine()
		tunnel, err = engine.Start(facade, *listen, remoteHost, remotePort)
		if err != nil {
			logrus.WithError(err).Fatal("could not start port forward")
		}
		logrus.WithFields(logrus.Fields{
			"listen": *listen,
			"remote": *remote,
		}).Info("port forward started")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logrus.Info("shutting down")
	if tunnel != nil {
		tunnel.Stop()
		tunnel.Wait()
	}
}

// getEnv returns the environment variable named by key, or def if unset.
// Flags take precedence over this only because flag.String's default
// value is computed from it before parsing — an explicit -flag on the
// command line still overrides whatever the environment supplied.
func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitHostPort(hostPort string) (string, string, error) {
	for i := len(hostPort) - 1; i >= 0; i-- {
		if hostPort[i] == ':' {
			return hostPort[:i], hostPort[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("tunneldemo: %q is not host:port", hostPort)
}
