package tx

import (
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

var (
	WrapperFeeKey    = storage.KeyOf("parameters", "wrapper_tx_fee")
	PowDifficultyKey = storage.KeyOf("parameters", "faucet_pow_difficulty")
)

// PowCounterKey stores the next challenge counter of a faucet payer.
func PowCounterKey(payer types.Address) storage.Key {
	return storage.KeyOf("faucet", payer.String(), "counter")
}

// ReadWrapperFee returns the fee every wrapper must pay, MinFee if unset.
func ReadWrapperFee(r storage.Reader) (types.Amount, error) {
	v, ok, err := storage.ReadUint64(r, WrapperFeeKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return MinFee, nil
	}
	return types.Amount(v), nil
}

func WriteWrapperFee(w storage.Writer, fee types.Amount) error {
	return storage.WriteUint64(w, WrapperFeeKey, uint64(fee))
}

// ReadPowDifficulty returns the faucet difficulty, or false when the faucet
// is not configured.
func ReadPowDifficulty(r storage.Reader) (uint8, bool, error) {
	raw, _, err := r.Read(PowDifficultyKey)
	if err != nil || len(raw) != 1 {
		return 0, false, err
	}
	return raw[0], true, nil
}

func WritePowDifficulty(w storage.Writer, difficulty uint8) error {
	_, err := w.Write(PowDifficultyKey, []byte{difficulty})
	return err
}

// ReadPowChallenge builds the current faucet challenge of payer.
func ReadPowChallenge(r storage.Reader, payer types.Address) (PowChallenge, bool, error) {
	difficulty, ok, err := ReadPowDifficulty(r)
	if err != nil || !ok {
		return PowChallenge{}, false, err
	}
	counter, _, err := storage.ReadUint64(r, PowCounterKey(payer))
	if err != nil {
		return PowChallenge{}, false, err
	}
	return PowChallenge{Payer: payer, Counter: counter, Difficulty: difficulty}, true, nil
}

// ConsumePowSolution bumps payer's counter so a solution can be used once.
func ConsumePowSolution(rw storage.ReadWriter, payer types.Address) error {
	counter, _, err := storage.ReadUint64(rw, PowCounterKey(payer))
	if err != nil {
		return err
	}
	return storage.WriteUint64(rw, PowCounterKey(payer), counter+1)
}
