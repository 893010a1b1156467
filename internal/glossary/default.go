package glossary

// Default is the built-in English to Vietnamese glossary of common board-game
// vocabulary. Entries mapped to themselves are conventionally left in English
// by Vietnamese players.
func Default() Glossary {
	return Glossary{
		"victory points":   "điểm chiến thắng",
		"victory point":    "điểm chiến thắng",
		"game board":       "bàn chơi",
		"player board":     "bảng người chơi",
		"first player":     "người chơi đầu tiên",
		"turn order":       "thứ tự lượt",
		"draw pile":        "chồng bài rút",
		"discard pile":     "chồng bài bỏ",
		"hand limit":       "giới hạn bài trên tay",
		"round":            "vòng",
		"setup":            "chuẩn bị",
		"end of game":      "kết thúc trò chơi",
		"tie breaker":      "phân định hòa",
		"token":            "token",
		"meeple":           "meeple",
		"worker placement": "worker placement",
		"deck-building":    "deck-building",
	}
}
