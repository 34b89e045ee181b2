// Package config defines the bearergate configuration file, loads it with
// ${VAR:-default} environment substitution, validates it and watches it
// for changes.
//
//	cfg, err := config.LoadConfig("configs/bearergate.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//
//	w, err := config.NewWatcher(path, func(cfg *config.GateConfig) {
//	    gate.SetValidator(buildValidator(cfg))
//	}, config.WithLogger(logger))
package config
