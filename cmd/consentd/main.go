package main

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/pod-consent-gateway/cmd/flags"
	"github.com/ruteri/pod-consent-gateway/gateway"
	"github.com/ruteri/pod-consent-gateway/httpserver"
	"github.com/ruteri/pod-consent-gateway/identity"
	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/kms"
	"github.com/ruteri/pod-consent-gateway/ledger"
	"github.com/ruteri/pod-consent-gateway/preferences"
	"github.com/ruteri/pod-consent-gateway/storage"
	"github.com/ruteri/pod-consent-gateway/token"
	"github.com/ruteri/pod-consent-gateway/wallet"
	"github.com/urfave/cli/v2"
)

var (
	flagListenAddr = &cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	}
	flagStore = &cli.StringFlag{
		Name:  "store",
		Value: "mem://pods/",
		Usage: "pod resource store URI (mem://, file://, s3://, http(s)://)",
	}
	flagSecrets = &cli.StringFlag{
		Name:  "secrets",
		Value: "pod:",
		Usage: "wallet key store URI (pod: or vault://host:port/mount/path)",
	}
	flagPublisher = &cli.StringFlag{
		Name:  "publisher",
		Value: "pod:",
		Usage: "token metadata publisher URI (pod: or ipfs://host:port/?gateway=...)",
	}
	flagTemplate = &cli.StringFlag{
		Name:  "template",
		Usage: "consent-token template to deploy, defaults to the catalog default",
	}
	flagMasterKey = &cli.StringFlag{
		Name:    "master-key",
		EnvVars: []string{"CONSENT_MASTER_KEY"},
		Usage:   "hex-encoded master key (at least 32 bytes) sealing wallet keys",
	}
	flagMasterPassphrase = &cli.StringFlag{
		Name:    "master-passphrase",
		EnvVars: []string{"CONSENT_MASTER_PASSPHRASE"},
		Usage:   "passphrase the master key is derived from, used if --master-key is unset",
	}
	flagMasterSalt = &cli.StringFlag{
		Name:    "master-salt",
		EnvVars: []string{"CONSENT_MASTER_SALT"},
		Usage:   "hex-encoded salt for --master-passphrase",
	}
	flagVaultToken = &cli.StringFlag{
		Name:    "vault-token",
		EnvVars: []string{"VAULT_TOKEN"},
		Usage:   "Vault token for vault:// secret stores",
	}
	flagVaultCert = &cli.StringFlag{
		Name:  "vault-client-cert",
		Usage: "PEM client certificate for Vault TLS auth",
	}
	flagVaultKey = &cli.StringFlag{
		Name:  "vault-client-key",
		Usage: "PEM client key for Vault TLS auth",
	}
	flagUserHeader = &cli.StringFlag{
		Name:  "user-header",
		Value: identity.DefaultUserHeader,
		Usage: "request header carrying the WebID asserted by the authenticating proxy",
	}
	flagDevUser = &cli.StringFlag{
		Name:  "dev-user",
		Usage: "authenticate every request as this WebID instead of reading --user-header (development only)",
	}
	flagMintOnGrant = &cli.BoolFlag{
		Name:  "mint-on-grant",
		Value: true,
		Usage: "mint a consent token for the requester when access is granted",
	}
	flagGrantAppend = &cli.BoolFlag{
		Name:  "grant-append",
		Value: false,
		Usage: "grant Append in addition to Read on consented scopes",
	}
	flagDevBalance = &cli.StringFlag{
		Name:  "dev-balance",
		Value: "1000000000000000000",
		Usage: "initial wei balance of accounts on the 'mem' development chain",
	}
)

func main() {
	app := &cli.App{
		Name:  "consentd",
		Usage: "Serve the pod consent gateway API",
		Flags: append([]cli.Flag{
			flagListenAddr,
			flags.RpcAddrFlag,
			flags.TemplatesFlag,
			flagTemplate,
			flagStore,
			flagSecrets,
			flagPublisher,
			flagMasterKey,
			flagMasterPassphrase,
			flagMasterSalt,
			flagVaultToken,
			flagVaultCert,
			flagVaultKey,
			flagUserHeader,
			flagDevUser,
			flagMintOnGrant,
			flagGrantAppend,
			flagDevBalance,
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	sealer, err := setupSealer(cCtx)
	if err != nil {
		logger.Error("Failed to set up key sealer", "err", err)
		return err
	}

	catalog, err := ledger.LoadCatalog(cCtx.String(flags.TemplatesFlag.Name))
	if err != nil {
		logger.Error("Failed to load template catalog", "err", err)
		return err
	}
	tmpl, err := catalog.Template(cCtx.String(flagTemplate.Name))
	if err != nil {
		logger.Error("Invalid template", "err", err)
		return err
	}

	chain, err := setupLedger(cCtx, catalog, logger)
	if err != nil {
		logger.Error("Failed to set up ledger", "err", err)
		return err
	}

	factory := storage.NewStoreFactory(logger)
	if cCtx.String(flagVaultCert.Name) != "" {
		cert, err := tls.LoadX509KeyPair(cCtx.String(flagVaultCert.Name), cCtx.String(flagVaultKey.Name))
		if err != nil {
			logger.Error("Failed to load Vault client certificate", "err", err)
			return err
		}
		factory = factory.WithVaultAuth(cCtx.String(flagVaultToken.Name), &cert)
	} else {
		factory = factory.WithVaultAuth(cCtx.String(flagVaultToken.Name), nil)
	}

	resources, err := factory.ResourceStoreFor(cCtx.String(flagStore.Name))
	if err != nil {
		logger.Error("Failed to create resource store", "err", err)
		return err
	}
	secrets, err := factory.SecretStoreFor(cCtx.String(flagSecrets.Name), resources)
	if err != nil {
		logger.Error("Failed to create secret store", "err", err)
		return err
	}
	publisher, err := factory.PublisherFor(cCtx.String(flagPublisher.Name), resources)
	if err != nil {
		logger.Error("Failed to create metadata publisher", "err", err)
		return err
	}
	logger.Info("Storage configured",
		slog.String("resources", resources.Name()),
		slog.String("base", resources.Base()))

	layout := storage.NewLayout(resources.Base())
	wallets := wallet.NewManager(resources, secrets, chain, sealer, layout, wallet.Config{}, logger)
	tokens := token.NewIssuer(resources, publisher, chain, wallets, layout, token.Config{
		Template:  tmpl.Name,
		Symbol:    tmpl.Symbol,
		MaxSupply: tmpl.MaxSupply,
		Price:     tmpl.Price,
	}, logger)
	gw := gateway.New(preferences.NewStore(resources, layout, logger), wallets, tokens, resources, layout, gateway.Config{
		MintOnGrant: cCtx.Bool(flagMintOnGrant.Name),
		GrantAppend: cCtx.Bool(flagGrantAppend.Name),
	}, logger)

	var provider interfaces.IdentityProvider = identity.NewHeaderProvider(cCtx.String(flagUserHeader.Name))
	if devUser := cCtx.String(flagDevUser.Name); devUser != "" {
		logger.Warn("Authenticating all requests as a fixed user", slog.String("user", devUser))
		provider = &identity.StaticProvider{User: interfaces.UserIdentity(devUser)}
	}

	handler := httpserver.NewHandler(gw, provider, logger)
	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
	server, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting server", slog.String("template", tmpl.Name))
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	server.Drain()
	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func setupSealer(cCtx *cli.Context) (*kms.Sealer, error) {
	if raw := cCtx.String(flagMasterKey.Name); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid master key: %w", err)
		}
		return kms.NewSealer(key)
	}

	passphrase := cCtx.String(flagMasterPassphrase.Name)
	if passphrase == "" {
		return nil, errors.New("one of --master-key or --master-passphrase is required")
	}
	salt, err := hex.DecodeString(cCtx.String(flagMasterSalt.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid master salt: %w", err)
	}
	return kms.NewSealerFromPassphrase(passphrase, salt)
}

func setupLedger(cCtx *cli.Context, catalog *ledger.Catalog, logger *slog.Logger) (interfaces.Ledger, error) {
	rpcAddr := cCtx.String(flags.RpcAddrFlag.Name)
	if rpcAddr == "mem" {
		balance, ok := new(big.Int).SetString(cCtx.String(flagDevBalance.Name), 10)
		if !ok {
			return nil, fmt.Errorf("invalid dev balance %q", cCtx.String(flagDevBalance.Name))
		}
		logger.Warn("Using the in-process development chain")
		return ledger.NewMemoryLedger(balance, catalog.Names()...), nil
	}

	logger.Info("Connecting to Ethereum RPC", "address", rpcAddr)
	return ledger.Dial(context.Background(), rpcAddr, catalog, logger)
}
