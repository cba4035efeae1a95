package main

import (
	"strings"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/app"
	"github.com/Ramsey-B/sage/pkg/logging"
)

type commandContext struct {
	datasetFlag *string
	policyFlag  *string

	configOnce sync.Once
	config     *config.Config
	logger     ectologger.Logger
	configErr  error
}

func newCommandContext(datasetFlag, policyFlag *string) *commandContext {
	return &commandContext{
		datasetFlag: datasetFlag,
		policyFlag:  policyFlag,
	}
}

// ensureConfig loads the environment once and applies flag overrides
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		if c.datasetFlag != nil && strings.TrimSpace(*c.datasetFlag) != "" {
			cfg.DatasetKey = strings.TrimSpace(*c.datasetFlag)
		}
		if c.policyFlag != nil && strings.TrimSpace(*c.policyFlag) != "" {
			cfg.PolicyPath = strings.TrimSpace(*c.policyFlag)
		}
		logger, err := logging.New(cfg)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// withApp opens the app for the duration of fn
func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app.App) error, opts ...app.Option) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg, c.logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close connections")
		}
	}()
	return fn(a)
}
