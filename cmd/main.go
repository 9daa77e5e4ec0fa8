/*
Copyright 2024 Nullroute Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nullroute/nullroute"
	"github.com/nullroute/nullroute/config"
	"github.com/nullroute/nullroute/database"
	"github.com/nullroute/nullroute/internal/cache"
	"github.com/nullroute/nullroute/internal/exchange"
	"github.com/nullroute/nullroute/internal/governor"
	"github.com/nullroute/nullroute/internal/notification"
	redis_db "github.com/nullroute/nullroute/internal/redis-db"
	"github.com/nullroute/nullroute/internal/routing"
	"github.com/nullroute/nullroute/internal/solana"
)

// Nullroute is the CLI application.
type Nullroute struct {
	cmd *cobra.Command
}

// nullrouteInstance holds the service and its configuration for the lifetime of a command.
type nullrouteInstance struct {
	nullroute *nullroute.Nullroute
	governor  *governor.Governor
	queue     *nullroute.Queue
	redis     *redis_db.Redis
	cnf       *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *nullrouteInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		// migrate and config only need the configuration
		if cmd.Name() == "up" || cmd.Name() == "down" || cmd.Name() == "config" {
			return nil
		}

		if err := setupNullroute(app, cnf); err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		return nil
	}
}

// setupNullroute wires the service from its collaborators.
func setupNullroute(app *nullrouteInstance, cfg *config.Configuration) error {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	redisClient, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cfg.Redis.Dns), cfg.Redis.SkipTLSVerify)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %v", err)
	}

	queue, err := nullroute.NewQueue(cfg)
	if err != nil {
		return fmt.Errorf("error creating queue: %v", err)
	}

	// start and workers each run a governor on the same API key; each gets its share of the rate.
	gov := governor.New(exchange.NewClientFromConfig(cfg.Exchange), governor.Config{TargetRate: cfg.Governor.ProcessRate()})
	routes := routing.New(db, cache.NewRedisCache(redisClient.Client()))
	chain := solana.NewClient(cfg.Solana.RPCURL)

	app.nullroute = nullroute.NewNullroute(db, gov, routes, chain, queue).
		WithRedis(redisClient.Client()).
		WithMaxPollAttempts(cfg.Queue.MaxPollAttempts)
	app.governor = gov
	app.queue = queue
	app.redis = redisClient
	return nil
}

// NewCLI creates the root command with the start, workers, migrate and config subcommands.
func NewCLI() *Nullroute {
	var configFile string
	app := &nullrouteInstance{}

	var rootCmd = &cobra.Command{
		Use:   "nullroute",
		Short: "Private Solana transfers routed through an exchange",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./nullroute.json", "Configuration file for nullroute")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())

	return &Nullroute{cmd: rootCmd}
}

func (n Nullroute) executeCLI() {
	if err := n.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
