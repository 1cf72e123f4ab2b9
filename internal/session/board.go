package session

import "encoding/json"

// Board geometry and side labels. The server never interprets cell
// contents beyond building the initial layout; move legality belongs to
// the clients.
const (
	BoardSize = 8

	SideRed  = "red"
	SideBlue = "blue"

	// StartingTurn is the fixed side that moves first on a fresh board.
	StartingTurn = SideRed
)

type boardDoc struct {
	Turn  string      `json:"turn"`
	Board [][]*string `json:"board"`
}

// DefaultBoardJSON returns the deterministic initial payload: an 8x8 grid
// with the first two rows marked red, the last two rows marked blue, and
// everything between empty.
func DefaultBoardJSON() json.RawMessage {
	red, blue := SideRed, SideBlue
	grid := make([][]*string, BoardSize)
	for r := 0; r < BoardSize; r++ {
		row := make([]*string, BoardSize)
		for c := 0; c < BoardSize; c++ {
			switch {
			case r < 2:
				row[c] = &red
			case r >= BoardSize-2:
				row[c] = &blue
			}
		}
		grid[r] = row
	}
	raw, err := json.Marshal(boardDoc{Turn: StartingTurn, Board: grid})
	if err != nil {
		// Marshal of a fixed in-memory structure cannot fail.
		panic(err)
	}
	return raw
}
