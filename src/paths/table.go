package paths

// costedPath pairs a path type with the search level at which it becomes
// worth trying.
type costedPath struct {
	level    int
	pathType PathType
}

// pathTable lists, per payment type, the path shapes to attempt in order.
// It is built once at startup and never mutated.
var pathTable map[PaymentType][]costedPath

func init() {
	pathTable = initPathTable()
}

// initPathTable builds the static table. Shapes are spelled with one letter
// per node type: s source, a accounts, b books, x XRP book, f destination
// book, d destination.
func initPathTable() map[PaymentType][]costedPath {
	mk := func(level int, shape string) costedPath {
		pt := make(PathType, len(shape))
		for i, c := range shape {
			switch c {
			case 's':
				pt[i] = NodeSource
			case 'a':
				pt[i] = NodeAccounts
			case 'b':
				pt[i] = NodeBooks
			case 'x':
				pt[i] = NodeXRPBook
			case 'f':
				pt[i] = NodeDestBook
			case 'd':
				pt[i] = NodeDestination
			default:
				panic("paths: bad path shape " + shape)
			}
		}
		return costedPath{level: level, pathType: pt}
	}

	return map[PaymentType][]costedPath{
		// Native to native goes direct; there is nothing to bridge.
		XRPToXRP: {},

		XRPToNonXRP: {
			mk(1, "sfd"),    // source -> dest book -> destination
			mk(3, "sfad"),   // source -> dest book -> gateway -> destination
			mk(5, "sfaad"),  //
			mk(6, "sbfd"),   // source -> book -> dest book -> destination
			mk(8, "sbafd"),  //
			mk(9, "sbfad"),  //
			mk(10, "sbafad"),
		},

		NonXRPToXRP: {
			mk(1, "sxd"),   // source -> XRP book -> destination
			mk(2, "saxd"),  // source -> gateway -> XRP book -> destination
			mk(6, "saaxd"), //
		},

		NonXRPToSame: {
			mk(1, "sad"),    // rippling through one account
			mk(1, "sfd"),    // source -> book -> destination
			mk(4, "safd"),   //
			mk(5, "saad"),   //
			mk(6, "sbfd"),   //
			mk(8, "sbafd"),  //
			mk(12, "saaad"), //
		},

		NonXRPToNonXRP: {
			mk(1, "sfad"),   //
			mk(1, "safd"),   //
			mk(3, "safad"),  //
			mk(4, "sxfd"),   // bridge through the native currency
			mk(5, "saxfd"),  //
			mk(6, "sxfad"),  //
			mk(6, "sbfd"),   //
			mk(7, "saaad"),  //
		},
	}
}

// tableFor returns the shapes for a payment type up to a search level.
func tableFor(pt PaymentType, level int) []PathType {
	var out []PathType
	for _, cp := range pathTable[pt] {
		if cp.level <= level {
			out = append(out, cp.pathType)
		}
	}
	return out
}
