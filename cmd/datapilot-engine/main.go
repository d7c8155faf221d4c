package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"datapilot/engine/internal/appdirs"
	"datapilot/engine/internal/engine"
	"datapilot/engine/internal/envfile"
	"datapilot/engine/internal/envutil"
	"datapilot/engine/internal/errinfo"
	"datapilot/engine/internal/logging"
	"datapilot/engine/internal/rpc"
)

func main() {
	app := &cli.App{
		Name:  engine.EngineName,
		Usage: "dataset analysis engine speaking JSON-RPC over stdio",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable file logging",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "override the data directory",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment variables from this file",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("engine failed: %v", err)
	}
}

func run(c *cli.Context) error {
	var envResult envfile.Result
	if path := c.String("env-file"); path != "" {
		envResult = envfile.LoadPath(path)
	} else {
		envResult = envfile.Load()
	}

	debug := c.Bool("debug") || envutil.Bool("DATAPILOT_DEBUG")
	dataDir := c.String("data-dir")
	if dataDir == "" {
		var err error
		dataDir, err = appdirs.DataDir()
		if err != nil {
			return err
		}
	}

	logSetup, logErr := logging.NewFileLogger(dataDir, debug)
	logger := logSetup.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("component", "engine")
	if logSetup.Enabled {
		logger.Info("engine.logging_enabled", "path", logSetup.Path)
	}
	if envResult.Loaded {
		logger.Debug("engine.env_loaded", "path", envResult.Path, "keys", envResult.Keys)
	}
	if envResult.Err != nil {
		logger.Warn("engine.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}
	if logErr != nil {
		logger.Warn("engine.log_setup_failed", "error", logErr.Error())
	}
	if logSetup.Close != nil {
		defer logSetup.Close()
	}

	server := rpc.NewServer(engine.APIVersion, os.Stdin, os.Stdout, logger)
	eng := engine.New(dataDir, server, logger)

	register := func(method string, fn func(context.Context, json.RawMessage) (any, *errinfo.ErrorInfo)) {
		server.Register(method, func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
			result, errInfo := fn(ctx, params)
			if errInfo != nil {
				msg := errInfo.ErrorCode
				if errInfo.Detail != "" {
					msg = errInfo.Detail
				}
				return nil, &rpc.Error{Message: msg, Data: errInfo}
			}
			return result, nil
		})
	}

	register("EngineGetInfo", eng.EngineGetInfo)
	register("ProvidersGetStatus", eng.ProvidersGetStatus)
	register("ProvidersSetApiKey", eng.ProvidersSetApiKey)
	register("ProvidersClearApiKey", eng.ProvidersClearApiKey)
	register("ProvidersValidate", eng.ProvidersValidate)
	register("ProvidersSetEnabled", eng.ProvidersSetEnabled)
	register("DatasetLoadFile", eng.DatasetLoadFile)
	register("DatasetLoadInline", eng.DatasetLoadInline)
	register("DatasetGetPreview", eng.DatasetGetPreview)
	register("DatasetGetInfo", eng.DatasetGetInfo)
	register("QuickActionRun", eng.QuickActionRun)
	register("AgentAsk", eng.AgentAsk)
	register("ChartRequest", eng.ChartRequest)
	register("ReportExport", eng.ReportExport)

	logger.Info("engine.started", "version", engine.EngineVersion, "data_dir", dataDir)
	return server.Serve(c.Context)
}
