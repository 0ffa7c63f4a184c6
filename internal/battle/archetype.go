package battle

// Archetype describes one kind of piece.
type Archetype struct {
	Name    string
	Attack  int
	Defense int
	Speed   int
	Ranged  bool
}

// Archetypes lists P1..P8 in troop order.
var Archetypes = [NumArchetypes]Archetype{
	{Name: "P1", Attack: 4, Defense: 7, Speed: 85},
	{Name: "P2", Attack: 3, Defense: 5, Speed: 86, Ranged: true},
	{Name: "P3", Attack: 5, Defense: 9, Speed: 95},
	{Name: "P4", Attack: 5, Defense: 7, Speed: 84, Ranged: true},
	{Name: "P5", Attack: 18, Defense: 8, Speed: 80},
	{Name: "P6", Attack: 10, Defense: 7, Speed: 98, Ranged: true},
	{Name: "P7", Attack: 24, Defense: 16, Speed: 88},
	{Name: "P8", Attack: 19, Defense: 13, Speed: 90, Ranged: true},
}
