/*
Copyright 2024 Recurra Authors.

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

	"github.com/recurrahq/recurra"
	"github.com/recurrahq/recurra/config"
	"github.com/recurrahq/recurra/database"
	"github.com/recurrahq/recurra/internal/notification"
)

// Recurra represents the CLI application, encapsulating the root Cobra command.
type Recurra struct {
	cmd *cobra.Command
}

// recurraInstance holds the service instance and its configuration, shared by
// every subcommand after preRun.
type recurraInstance struct {
	recurra *recurra.Recurra
	cnf     *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the service instance before any
// subcommand executes.
func preRun(app *recurraInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("recurra.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newRecurra, err := setupRecurra(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.recurra = newRecurra
		app.cnf = cnf

		return nil
	}
}

func setupRecurra(cfg *config.Configuration) (*recurra.Recurra, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newRecurra, err := recurra.NewRecurra(db)
	if err != nil {
		return nil, fmt.Errorf("error creating recurra: %v", err)
	}
	return newRecurra, nil
}

// NewCLI assembles the root command and its subcommands.
func NewCLI() *Recurra {
	var configFile string
	b := &recurraInstance{}

	var rootCmd = &cobra.Command{
		Use:   "recurra",
		Short: "Billing back-office for payment-processor webhooks",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./recurra.json", "Configuration file for recurra")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(backupCommands(b))

	return &Recurra{cmd: rootCmd}
}

func (w Recurra) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
