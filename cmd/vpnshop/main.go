package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/app"
)

// Set with -ldflags "-X main.buildVersion=... -X main.buildCommit=...".
var (
	buildVersion = "N/A"
	buildCommit  = "N/A"
)

//	@title			VPN Shop API
//	@version		1.0
//	@description	Payment callbacks and admin reads for the VPN shop bot

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a JWT signed with CALLBACK_SECRET.

// @host		localhost:8080
// @BasePath	/
func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shop := app.New()
	if err := shop.Start(ctx); err != nil {
		// zap is still a no-op when Start fails before the logger is built.
		log.Error().Err(err).Str("version", buildVersion).Msg("Can't start the shop")
		return 1
	}
	defer zap.L().Sync() //nolint:errcheck
	zap.L().Info("Shop is serving", zap.String("version", buildVersion), zap.String("commit", buildCommit))

	if err := shop.Wait(ctx, cancel); err != nil {
		zap.L().Error("Shop stopped with errors", zap.Error(err))
		return 1
	}
	zap.L().Info("Shop stopped cleanly")
	return 0
}
