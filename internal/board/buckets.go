package board

type Bucket struct {
	Group    Group    `json:"group"`
	Entities []Entity `json:"entities"`
}

// Buckets groups entities into kanban columns in the kind's group order,
// keeping store order inside each column. Every group gets a column, even an
// empty one.
func Buckets(kind Kind, entities []Entity) []Bucket {
	groups := kind.Groups()
	index := make(map[Group]int, len(groups))
	out := make([]Bucket, len(groups))
	for i, g := range groups {
		index[g] = i
		out[i] = Bucket{Group: g, Entities: []Entity{}}
	}
	for _, e := range entities {
		i := index[kind.BucketFor(e)]
		out[i].Entities = append(out[i].Entities, e)
	}
	return out
}
