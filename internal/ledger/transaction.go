// Package ledger hosts the prediction program: it verifies and serializes
// transactions, loads and locks the accounts they touch, runs the program
// and commits the result.
package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// maxTxAccounts bounds the account list accepted from the wire.
const maxTxAccounts = 16

// maxTxData bounds the instruction payload accepted from the wire.
const maxTxData = 1024

// AccountMeta is one account reference of a transaction.
type AccountMeta struct {
	Key        solana.PublicKey `json:"key"`
	IsSigner   bool             `json:"is_signer"`
	IsWritable bool             `json:"is_writable"`
}

// Transaction carries exactly one instruction. The payer always signs.
type Transaction struct {
	Payer      solana.PublicKey
	ProgramID  solana.PublicKey
	Accounts   []AccountMeta
	Data       []byte
	RecentSlot uint64
	Signatures []solana.Signature
}

// NewTransaction wraps a built instruction for payer.
func NewTransaction(payer solana.PublicKey, ix solana.Instruction, recentSlot uint64) (*Transaction, error) {
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("ledger: instruction data: %w", err)
	}
	metas := ix.Accounts()
	accounts := make([]AccountMeta, 0, len(metas))
	for _, m := range metas {
		accounts = append(accounts, AccountMeta{Key: m.PublicKey, IsSigner: m.IsSigner, IsWritable: m.IsWritable})
	}
	return &Transaction{
		Payer:      payer,
		ProgramID:  ix.ProgramID(),
		Accounts:   accounts,
		Data:       data,
		RecentSlot: recentSlot,
	}, nil
}

// ID is the base58 payer signature, or "" for an unsigned transaction.
func (tx *Transaction) ID() string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return tx.Signatures[0].String()
}

// Signers lists the keys that must sign, payer first, without duplicates.
func (tx *Transaction) Signers() []solana.PublicKey {
	out := []solana.PublicKey{tx.Payer}
	for _, m := range tx.Accounts {
		if !m.IsSigner {
			continue
		}
		dup := false
		for _, k := range out {
			if k.Equals(m.Key) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m.Key)
		}
	}
	return out
}

// Message returns the canonical bytes every signer signs.
func (tx *Transaction) Message() ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.encodeMessage(bin.NewBorshEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("ledger: encode message: %w", err)
	}
	return buf.Bytes(), nil
}

func (tx *Transaction) encodeMessage(enc *bin.Encoder) error {
	if err := enc.WriteBytes(tx.Payer[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(tx.ProgramID[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint32(uint32(len(tx.Accounts)), binary.LittleEndian); err != nil {
		return err
	}
	for _, m := range tx.Accounts {
		if err := enc.WriteBytes(m.Key[:], false); err != nil {
			return err
		}
		if err := enc.WriteBool(m.IsSigner); err != nil {
			return err
		}
		if err := enc.WriteBool(m.IsWritable); err != nil {
			return err
		}
	}
	if err := enc.WriteUint32(uint32(len(tx.Data)), binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteBytes(tx.Data, false); err != nil {
		return err
	}
	return enc.WriteUint64(tx.RecentSlot, binary.LittleEndian)
}

// Sign replaces the signatures using keys, which must cover every signer.
func (tx *Transaction) Sign(keys ...solana.PrivateKey) error {
	msg, err := tx.Message()
	if err != nil {
		return err
	}
	signers := tx.Signers()
	sigs := make([]solana.Signature, 0, len(signers))
	for _, signer := range signers {
		var key solana.PrivateKey
		for _, k := range keys {
			if k.PublicKey().Equals(signer) {
				key = k
				break
			}
		}
		if key == nil {
			return fmt.Errorf("ledger: sign: no key for %s: %w", signer, domain.ErrMissingSignature)
		}
		sig, err := key.Sign(msg)
		if err != nil {
			return fmt.Errorf("ledger: sign: %w", err)
		}
		sigs = append(sigs, sig)
	}
	tx.Signatures = sigs
	return nil
}

// Verify checks that every required signer produced a valid signature.
func (tx *Transaction) Verify() error {
	signers := tx.Signers()
	if len(tx.Signatures) < len(signers) {
		return fmt.Errorf("ledger: %d of %d signatures: %w", len(tx.Signatures), len(signers), domain.ErrMissingSignature)
	}
	if len(tx.Signatures) > len(signers) {
		return fmt.Errorf("ledger: %d signatures for %d signers: %w", len(tx.Signatures), len(signers), domain.ErrInvalidSignature)
	}
	msg, err := tx.Message()
	if err != nil {
		return err
	}
	for i, signer := range signers {
		if !tx.Signatures[i].Verify(signer, msg) {
			return fmt.Errorf("ledger: signer %s: %w", signer, domain.ErrInvalidSignature)
		}
	}
	return nil
}

// MarshalBinary encodes the signatures followed by the message.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.WriteUint32(uint32(len(tx.Signatures)), binary.LittleEndian); err != nil {
		return nil, err
	}
	for _, sig := range tx.Signatures {
		if err := enc.WriteBytes(sig[:], false); err != nil {
			return nil, err
		}
	}
	if err := tx.encodeMessage(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var errMalformedTx = errors.New("malformed transaction")

// UnmarshalTransaction decodes the MarshalBinary form.
func UnmarshalTransaction(data []byte) (*Transaction, error) {
	tx, err := decodeTransaction(bin.NewBorshDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("ledger: %w: %v: %w", errMalformedTx, err, domain.ErrInvalidInput)
	}
	return tx, nil
}

func decodeTransaction(dec *bin.Decoder) (*Transaction, error) {
	nsig, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	if nsig > maxTxAccounts+1 {
		return nil, fmt.Errorf("%d signatures", nsig)
	}
	tx := &Transaction{Signatures: make([]solana.Signature, 0, nsig)}
	for i := uint32(0); i < nsig; i++ {
		b, err := dec.ReadNBytes(64)
		if err != nil {
			return nil, err
		}
		tx.Signatures = append(tx.Signatures, solana.SignatureFromBytes(b))
	}
	if tx.Payer, err = readKey(dec); err != nil {
		return nil, err
	}
	if tx.ProgramID, err = readKey(dec); err != nil {
		return nil, err
	}
	nacct, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	if nacct > maxTxAccounts {
		return nil, fmt.Errorf("%d accounts", nacct)
	}
	for i := uint32(0); i < nacct; i++ {
		var m AccountMeta
		if m.Key, err = readKey(dec); err != nil {
			return nil, err
		}
		if m.IsSigner, err = dec.ReadBool(); err != nil {
			return nil, err
		}
		if m.IsWritable, err = dec.ReadBool(); err != nil {
			return nil, err
		}
		tx.Accounts = append(tx.Accounts, m)
	}
	ndata, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	if ndata > maxTxData {
		return nil, fmt.Errorf("%d data bytes", ndata)
	}
	if ndata > 0 {
		if tx.Data, err = dec.ReadNBytes(int(ndata)); err != nil {
			return nil, err
		}
	}
	if tx.RecentSlot, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return nil, err
	}
	if n := dec.Remaining(); n != 0 {
		return nil, fmt.Errorf("%d trailing bytes", n)
	}
	return tx, nil
}

func readKey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}
