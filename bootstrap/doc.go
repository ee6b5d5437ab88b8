// Package bootstrap builds the process: logger, configuration, event store
// and the App that starts every module in order and supervises their loops.
//
// Usage:
//
//	cfg, err := bootstrap.InitConfig(path)
//	_, sugar, err := bootstrap.InitLogger(cfg)
//	store, err := bootstrap.InitStore(cfg, sugar)
//	app, err := bootstrap.NewApp(cfg, store, sugar)
//	defer app.Close()
//
//	err = app.RunUntilSignal(ctx)
package bootstrap
