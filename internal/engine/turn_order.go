package engine

// Host is the player at join index 0.
func (s State) Host() (Player, bool) {
	if len(s.Players) == 0 {
		return Player{}, false
	}
	return s.Players[0], true
}

// Current is the player whose move or action is valid right now.
func (s State) Current() (Player, bool) {
	if s.Turn < 0 || s.Turn >= len(s.Players) {
		return Player{}, false
	}
	return s.Players[s.Turn], true
}

// NextToPick is the first player in join order without a token. Under
// sequential picking this is the player at join index len(Tokens).
func (s State) NextToPick() (Player, bool) {
	for _, p := range s.Players {
		if s.Tokens[p.ID] == "" {
			return p, true
		}
	}
	return Player{}, false
}

// PlayerNumber is the 1-based join position, 0 for strangers. It shifts when
// an earlier player leaves.
func (s State) PlayerNumber(playerID string) int {
	return s.IndexOf(playerID) + 1
}

func nextTurn(s State, requested *int) int {
	n := len(s.Players)
	if s.Rules.TrustNextPlayerIndex && requested != nil && *requested >= 0 && *requested < n {
		return *requested
	}
	return (s.Turn + 1) % n
}

// turnAfterRemoval keeps the turn on the same player when someone before them
// leaves, hands it to the next in line when the current player leaves, and
// wraps to 0 past the end.
func turnAfterRemoval(turn, removed, remaining int) int {
	if remaining == 0 {
		return 0
	}
	if removed < turn {
		turn--
	}
	if turn >= remaining {
		turn = 0
	}
	return turn
}
