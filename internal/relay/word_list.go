package relay

// Word pools for generated room codes. Four distinct pools feed every code.
var animals = []string{
	"kitten", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster", "beaver", "narwhal",
	"dolphin", "whale", "penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "lynx",
	"badger", "heron", "marmot", "walrus", "gecko", "llama", "yak", "ibis", "manatee", "tapir",
}

var dishes = []string{
	"pancake", "waffle", "sushi", "ramen", "curry", "taco", "burrito", "biryani", "paella", "risotto",
	"lasagna", "pizza", "dumpling", "noodle", "omelette", "quiche", "kebab", "fondue", "pierogi", "gnocchi",
	"falafel", "samosa", "poutine", "dimsum", "pretzel", "crepe", "bagel", "churro", "mochi", "strudel",
}

var names = []string{
	"alice", "bob", "carol", "daisy", "ella", "finn", "grace", "henry", "isla", "jack",
	"kai", "luna", "mia", "noah", "olive", "peter", "quinn", "rosa", "sam", "tina",
	"uma", "victor", "wren", "xavier", "yara", "zoe", "aaron", "bella", "carlos", "diana",
}

var randomWords = []string{
	"sunbeam", "stardust", "pepper", "muffin", "bubble", "sprout", "glimmer", "whisker", "echo", "jelly",
	"marble", "maple", "cocoa", "hazel", "breeze", "meadow", "willow", "ember", "cinnamon", "poppy",
	"pixel", "biscuit", "nugget", "toffee", "sprinkle", "twig", "lantern", "pebble", "comet", "orbit",
}

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy", "nimble", "quiet", "sunny", "witty",
}

var extras = []string{
	"dragon", "unicorn", "griffin", "phoenix", "fairy", "gnome", "sprite", "pixie", "mermaid", "elf",
	"splash", "drizzle", "thimble", "button", "puddle", "cottage", "rocket", "nebula", "canyon", "ridge",
	"harbor", "glacier", "meteor", "beacon", "tundra", "lagoon", "summit", "grove", "dune", "fjord",
}
