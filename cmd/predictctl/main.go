// Command predictctl builds, signs, and submits program transactions
// against a running predictd node.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/v1xingyue/tokenwords/internal/client"
	"github.com/v1xingyue/tokenwords/internal/crypto"
	"github.com/v1xingyue/tokenwords/internal/ledger"
	"github.com/v1xingyue/tokenwords/internal/program"
)

const usage = `usage: predictctl <command> [flags]

commands:
  keygen        create a keypair file (plain or encrypted)
  encrypt-key   encrypt an existing keypair file
  alloc         allocate an empty account
  init-room     register a room for an oracle feed
  commit        stake on a predicted price
  settle        settle an expired prediction
  price         publish an oracle price
  show          print status, an account, a room, a prediction, or a receipt
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmds := map[string]func(args []string) error{
		"keygen":      runKeygen,
		"encrypt-key": runEncryptKey,
		"alloc":       runAlloc,
		"init-room":   runInitRoom,
		"commit":      runCommit,
		"settle":      runSettle,
		"price":       runPrice,
		"show":        runShow,
	}
	run, ok := cmds[os.Args[1]]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "predictctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// nodeFlags are shared by every command that talks to a node.
type nodeFlags struct {
	url     string
	apiKey  string
	timeout time.Duration
}

func (n *nodeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&n.url, "url", envOr("PREDICT_URL", "http://localhost:8000"), "node base URL")
	fs.StringVar(&n.apiKey, "api-key", os.Getenv("PREDICT_API_KEY"), "node API key")
	fs.DurationVar(&n.timeout, "timeout", 30*time.Second, "request timeout")
}

func (n *nodeFlags) client() (*client.Client, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	return client.New(n.url, n.apiKey), ctx, cancel
}

// keyFlags select a signing key the same way the settler does.
type keyFlags struct {
	keypair   string
	encrypted string
}

func (k *keyFlags) register(fs *flag.FlagSet, name, help string) {
	fs.StringVar(&k.keypair, name, "", help+" (solana keygen JSON file)")
	fs.StringVar(&k.encrypted, name+"-encrypted", "", help+" (encrypted key file, password from PREDICT_KEY_PASSWORD)")
}

func (k *keyFlags) load() (solana.PrivateKey, error) {
	return crypto.LoadKey(crypto.KeyConfig{
		KeypairPath:      k.keypair,
		EncryptedKeyPath: k.encrypted,
		KeyPassword:      os.Getenv("PREDICT_KEY_PASSWORD"),
	})
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "", "output path")
	encrypt := fs.Bool("encrypt", false, "encrypt with PREDICT_KEY_PASSWORD")
	_ = fs.Parse(args)
	if *out == "" {
		return errors.New("-out is required")
	}

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return err
	}
	if *encrypt {
		pw := os.Getenv("PREDICT_KEY_PASSWORD")
		if pw == "" {
			return errors.New("PREDICT_KEY_PASSWORD is not set")
		}
		err = crypto.WriteEncryptedKey(*out, key, pw)
	} else {
		err = writeKeygenFile(*out, key)
	}
	if err != nil {
		return err
	}
	fmt.Println(key.PublicKey())
	return nil
}

func runEncryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	in := fs.String("in", "", "solana keygen JSON file")
	out := fs.String("out", "", "encrypted output path")
	_ = fs.Parse(args)
	if *in == "" || *out == "" {
		return errors.New("-in and -out are required")
	}
	pw := os.Getenv("PREDICT_KEY_PASSWORD")
	if pw == "" {
		return errors.New("PREDICT_KEY_PASSWORD is not set")
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(*in)
	if err != nil {
		return err
	}
	if err := crypto.WriteEncryptedKey(*out, key, pw); err != nil {
		return err
	}
	fmt.Println(key.PublicKey())
	return nil
}

// writeKeygenFile writes key as the JSON byte array solana-keygen uses.
func writeKeygenFile(path string, key solana.PrivateKey) error {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func runAlloc(args []string) error {
	fs := flag.NewFlagSet("alloc", flag.ExitOnError)
	var node nodeFlags
	node.register(fs)
	key := fs.String("key", "", "account address")
	owner := fs.String("owner", "", "owner program (default: the node's program)")
	_ = fs.Parse(args)

	addr, err := solana.PublicKeyFromBase58(*key)
	if err != nil {
		return fmt.Errorf("-key: %w", err)
	}
	var ownerKey solana.PublicKey
	if *owner != "" {
		if ownerKey, err = solana.PublicKeyFromBase58(*owner); err != nil {
			return fmt.Errorf("-owner: %w", err)
		}
	}
	c, ctx, cancel := node.client()
	defer cancel()
	acct, err := c.Allocate(ctx, addr, ownerKey)
	if err != nil {
		return err
	}
	return printJSON(acct)
}

func runInitRoom(args []string) error {
	fs := flag.NewFlagSet("init-room", flag.ExitOnError)
	var node nodeFlags
	node.register(fs)
	var authority keyFlags
	authority.register(fs, "authority", "room authority key")
	oracle := fs.String("oracle", "", "oracle feed address")
	mint := fs.String("mint", "", "staking mint address")
	vault := fs.String("vault", "", "stake vault address")
	_ = fs.Parse(args)

	auth, err := authority.load()
	if err != nil {
		return err
	}
	keys, err := parseKeys(map[string]string{"oracle": *oracle, "mint": *mint, "vault": *vault})
	if err != nil {
		return err
	}

	c, ctx, cancel := node.client()
	defer cancel()
	programID, slot, err := head(ctx, c)
	if err != nil {
		return err
	}
	room, bump, err := program.FindRoomAddress(programID, auth.PublicKey(), keys["oracle"])
	if err != nil {
		return err
	}
	if _, err := c.Allocate(ctx, room, solana.PublicKey{}); err != nil {
		return fmt.Errorf("allocate room %s: %w", room, err)
	}
	ix := program.NewInitializeRoomInstruction(programID, room, auth.PublicKey(), program.InitializeRoom{
		OracleFeed:  keys["oracle"],
		StakingMint: keys["mint"],
		StakeVault:  keys["vault"],
		Bump:        bump,
	})
	return submit(ctx, c, ix, slot, auth)
}

func runCommit(args []string) error {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	var node nodeFlags
	node.register(fs)
	var user keyFlags
	user.register(fs, "user", "predicting user key")
	roomFlag := fs.String("room", "", "room address")
	price := fs.Int64("price", 0, "predicted price")
	expiry := fs.Uint64("expiry", 0, "expiry slot")
	in := fs.Uint64("in", 0, "expire this many slots from now (overrides -expiry)")
	stake := fs.Uint64("stake", 0, "stake amount")
	_ = fs.Parse(args)

	userKey, err := user.load()
	if err != nil {
		return err
	}
	room, err := solana.PublicKeyFromBase58(*roomFlag)
	if err != nil {
		return fmt.Errorf("-room: %w", err)
	}

	c, ctx, cancel := node.client()
	defer cancel()
	programID, slot, err := head(ctx, c)
	if err != nil {
		return err
	}
	expirySlot := *expiry
	if *in > 0 {
		expirySlot = slot + *in
	}

	prediction := solana.NewWallet().PublicKey()
	if _, err := c.Allocate(ctx, prediction, solana.PublicKey{}); err != nil {
		return fmt.Errorf("allocate prediction: %w", err)
	}
	fmt.Fprintf(os.Stderr, "prediction %s\n", prediction)
	ix := program.NewStakeAndCommitInstruction(programID, prediction, userKey.PublicKey(), room, program.StakeAndCommit{
		PredictedPrice: *price,
		ExpirySlot:     expirySlot,
		Stake:          *stake,
	})
	return submit(ctx, c, ix, slot, userKey)
}

func runSettle(args []string) error {
	fs := flag.NewFlagSet("settle", flag.ExitOnError)
	var node nodeFlags
	node.register(fs)
	var payer keyFlags
	payer.register(fs, "payer", "fee payer key")
	predFlag := fs.String("prediction", "", "prediction address")
	_ = fs.Parse(args)

	payerKey, err := payer.load()
	if err != nil {
		return err
	}
	addr, err := solana.PublicKeyFromBase58(*predFlag)
	if err != nil {
		return fmt.Errorf("-prediction: %w", err)
	}

	c, ctx, cancel := node.client()
	defer cancel()
	pred, err := c.Prediction(ctx, addr)
	if err != nil {
		return err
	}
	room, err := c.Room(ctx, pred.Room)
	if err != nil {
		return err
	}
	programID, slot, err := head(ctx, c)
	if err != nil {
		return err
	}
	ix := program.NewSettlePredictionInstruction(programID, addr, pred.Room, room.OracleFeed)
	return submit(ctx, c, ix, slot, payerKey)
}

func runPrice(args []string) error {
	fs := flag.NewFlagSet("price", flag.ExitOnError)
	var node nodeFlags
	node.register(fs)
	feed := fs.String("feed", "", "oracle feed address")
	price := fs.Int64("price", 0, "price to publish")
	_ = fs.Parse(args)

	key, err := solana.PublicKeyFromBase58(*feed)
	if err != nil {
		return fmt.Errorf("-feed: %w", err)
	}
	c, ctx, cancel := node.client()
	defer cancel()
	if err := c.SetPrice(ctx, key, *price); err != nil {
		return err
	}
	got, err := c.OraclePrice(ctx, key)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d\n", key, got)
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	var node nodeFlags
	node.register(fs)
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("usage: show status|account|room|prediction|tx [id]")
	}

	c, ctx, cancel := node.client()
	defer cancel()
	what := fs.Arg(0)
	if what == "status" {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(st)
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("show %s needs one argument", what)
	}
	id := fs.Arg(1)
	if what == "tx" {
		r, err := c.Receipt(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(r)
	}

	key, err := solana.PublicKeyFromBase58(id)
	if err != nil {
		return err
	}
	var v any
	switch what {
	case "account":
		v, err = c.Account(ctx, key)
	case "room":
		v, err = c.Room(ctx, key)
	case "prediction":
		v, err = c.Prediction(ctx, key)
	default:
		return fmt.Errorf("unknown object %q", what)
	}
	if err != nil {
		return err
	}
	return printJSON(v)
}

func head(ctx context.Context, c *client.Client) (solana.PublicKey, uint64, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	programID, err := solana.PublicKeyFromBase58(st.ProgramID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("node program id: %w", err)
	}
	return programID, st.Slot, nil
}

func submit(ctx context.Context, c *client.Client, ix solana.Instruction, slot uint64, signer solana.PrivateKey) error {
	tx, err := ledger.NewTransaction(signer.PublicKey(), ix, slot)
	if err != nil {
		return err
	}
	if err := tx.Sign(signer); err != nil {
		return err
	}
	r, err := c.Submit(ctx, tx)
	if err != nil {
		return err
	}
	if err := printJSON(r); err != nil {
		return err
	}
	if !r.Succeeded() {
		return fmt.Errorf("transaction %s failed", r.ID)
	}
	return nil
}

func parseKeys(in map[string]string) (map[string]solana.PublicKey, error) {
	out := make(map[string]solana.PublicKey, len(in))
	for name, s := range in {
		k, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("-%s: %w", name, err)
		}
		out[name] = k
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
