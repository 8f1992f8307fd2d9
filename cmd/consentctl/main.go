package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ruteri/pod-consent-gateway/cmd/flags"
	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/ledger"
	"github.com/ruteri/pod-consent-gateway/storage"
	"github.com/urfave/cli/v2"
)

var flagContract = &cli.StringFlag{
	Name:     "contract",
	Required: true,
	Usage:    "consent-token contract address",
}

var flagAddress = &cli.StringFlag{
	Name:  "address",
	Usage: "account address",
}

var flagUser = &cli.StringFlag{
	Name:  "user",
	Usage: "WebID whose wallet address is read from the pod store",
}

var flagStore = &cli.StringFlag{
	Name:  "store",
	Usage: "pod resource store URI used to resolve --user",
}

func main() {
	app := &cli.App{
		Name:  "consentctl",
		Usage: "Audit consent tokens and wallets of the pod consent gateway",
		Flags: append([]cli.Flag{
			flags.RpcAddrFlag,
			flags.TemplatesFlag,
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:  "owners",
				Usage: "List the distinct holders of a consent token",
				Flags: []cli.Flag{flagContract},
				Action: func(cCtx *cli.Context) error {
					contract, err := interfaces.NewAddressFromHex(cCtx.String(flagContract.Name))
					if err != nil {
						return fmt.Errorf("invalid contract: %w", err)
					}
					chain, err := dial(cCtx)
					if err != nil {
						return err
					}

					state, err := chain.SaleState(cCtx.Context, contract)
					if err != nil {
						return err
					}
					owners, err := chain.OwnersOf(cCtx.Context, contract)
					if err != nil {
						return err
					}

					fmt.Printf("Contract: %s\n", contract)
					fmt.Printf("Sale active: %t, supply %d/%d, price %s wei\n", state.Active, state.TotalSupply, state.MaxSupply, state.Price)
					for _, owner := range owners {
						fmt.Println(owner)
					}
					return nil
				},
			},
			{
				Name:  "balance",
				Usage: "Show the balance and nonce of an account",
				Flags: []cli.Flag{flagAddress, flagUser, flagStore},
				Action: func(cCtx *cli.Context) error {
					addr, err := resolveAddress(cCtx)
					if err != nil {
						return err
					}
					chain, err := dial(cCtx)
					if err != nil {
						return err
					}

					balance, err := chain.GetBalance(cCtx.Context, addr)
					if err != nil {
						return err
					}
					nonce, err := chain.GetNonce(cCtx.Context, addr)
					if err != nil {
						return err
					}

					fmt.Printf("Address: %s\n", addr)
					fmt.Printf("Balance: %s wei\n", balance)
					fmt.Printf("Transactions: %d\n", nonce)
					return nil
				},
			},
			{
				Name:  "templates",
				Usage: "List the configured consent-token templates",
				Action: func(cCtx *cli.Context) error {
					catalog, err := ledger.LoadCatalog(cCtx.String(flags.TemplatesFlag.Name))
					if err != nil {
						return err
					}
					for _, name := range catalog.Names() {
						tmpl, err := catalog.Template(name)
						if err != nil {
							return err
						}
						marker := " "
						if name == catalog.Default {
							marker = "*"
						}
						fmt.Printf("%s %s\t%s\tmax %d\tprice %s wei\tdeployable %t\n",
							marker, tmpl.Name, tmpl.Symbol, tmpl.MaxSupply, tmpl.Price, tmpl.Deployable())
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func dial(cCtx *cli.Context) (*ledger.EthereumLedger, error) {
	catalog, err := ledger.LoadCatalog(cCtx.String(flags.TemplatesFlag.Name))
	if err != nil {
		return nil, err
	}
	return ledger.Dial(cCtx.Context, cCtx.String(flags.RpcAddrFlag.Name), catalog, flags.SetupLogger(cCtx))
}

func resolveAddress(cCtx *cli.Context) (interfaces.Address, error) {
	if raw := cCtx.String(flagAddress.Name); raw != "" {
		return interfaces.NewAddressFromHex(raw)
	}

	user := interfaces.UserIdentity(cCtx.String(flagUser.Name))
	if user == "" || cCtx.String(flagStore.Name) == "" {
		return interfaces.Address{}, errors.New("either --address or --user with --store is required")
	}

	store, err := storage.NewStoreFactory(flags.SetupLogger(cCtx)).ResourceStoreFor(cCtx.String(flagStore.Name))
	if err != nil {
		return interfaces.Address{}, err
	}
	data, err := store.Read(context.Background(), storage.NewLayout(store.Base()).WalletAddressURL(user))
	if err != nil {
		return interfaces.Address{}, fmt.Errorf("failed to read wallet address of %s: %w", user, err)
	}
	return interfaces.NewAddressFromHex(strings.TrimSpace(string(data)))
}
