/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command libsvxd is a minimal demo entrypoint: an echo server and an echo
// client built on the reactor's TCP server and client packages, configured
// from a file and flags through viper.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sabouaram/libsvx/socket/buffer"
	"github.com/sabouaram/libsvx/socket/config"
	"github.com/sabouaram/libsvx/socket/conn"
	tcpclient "github.com/sabouaram/libsvx/socket/client/tcp"
	tcpserver "github.com/sabouaram/libsvx/socket/server/tcp"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "libsvxd",
		Short: "Reactor-based TCP echo server and client",
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (json, yaml, toml)")
	root.AddCommand(newServeCmd(), newConnectCmd())
	return root
}

func loadViper(prefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("LIBSVX")
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	if prefix != "" {
		return v.Sub(prefix), nil
	}
	return v, nil
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadViper("server")
			if err != nil {
				return err
			}

			cfg := defaultServerConfig()
			if v != nil {
				if err = v.Unmarshal(&cfg); err != nil {
					return err
				}
			}
			if addr != "" {
				cfg.Address = addr
			}

			srv, err := tcpserver.New(cfg, tcpserver.Callbacks{
				Read: func(c *conn.Conn, data *buffer.Circlebuf) {
					buf := make([]byte, data.Used())
					_ = data.Get(buf)
					_ = data.Erase(len(buf))
					_ = c.Write(buf)
				},
			})
			if err != nil {
				return err
			}
			if err = srv.AddListener(cfg.Address); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err = srv.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("listening on %s\n", cfg.Address)

			<-ctx.Done()
			return srv.Stop(context.Background())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides config")
	return cmd
}

func newConnectCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run the echo client",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadViper("client")
			if err != nil {
				return err
			}

			cfg := defaultClientConfig()
			if v != nil {
				if err = v.Unmarshal(&cfg); err != nil {
					return err
				}
			}
			if addr != "" {
				cfg.Address = addr
			}

			cl, err := tcpclient.New(cfg, tcpclient.Callbacks{
				Connected: func(c *conn.Conn) {
					fmt.Println("connected:", c.ID())
					_ = c.Write([]byte("ping"))
				},
				Read: echoRead,
				Retrying: func(err error, delay time.Duration) {
					fmt.Printf("retrying in %s: %v\n", delay, err)
				},
			})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err = cl.Start(ctx); err != nil {
				return err
			}
			if err = cl.Connect(); err != nil {
				return err
			}

			<-ctx.Done()
			return cl.Stop(context.Background())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "server address, overrides config")
	return cmd
}

func echoRead(c *conn.Conn, data *buffer.Circlebuf) {
	n := data.Used()
	buf := make([]byte, n)
	_ = data.Get(buf)
	_ = data.Erase(n)
	fmt.Printf("recv %q\n", buf)
}

func defaultServerConfig() config.Server {
	return config.Server{
		Address: "127.0.0.1:9000",
		Buffer:  config.Buffer{ReadMin: 4096, ReadMax: 65536, WriteMin: 4096, WriteHighWater: 1 << 20},
	}
}

func defaultClientConfig() config.Client {
	return config.Client{
		Address: "127.0.0.1:9000",
		Buffer:  config.Buffer{ReadMin: 4096, ReadMax: 65536, WriteMin: 4096, WriteHighWater: 1 << 20},
		Backoff: config.Backoff{Initial: 200_000_000, Max: 5_000_000_000, Multiplier: 2},
	}
}
