package program

import "github.com/gagliardetto/solana-go"

// RoomSeed prefixes every room address derivation.
const RoomSeed = "room"

// FindRoomAddress derives the canonical room account for an authority and
// oracle pair. The bump belongs in InitializeRoom.Bump.
func FindRoomAddress(programID, authority, oracle solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{[]byte(RoomSeed), authority[:], oracle[:]},
		programID,
	)
}
