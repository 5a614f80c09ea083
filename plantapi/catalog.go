package plantapi

// Species the remote species model was trained on.
var SupportedSpecies = []string{
	"Apple", "Bell Pepper", "Blueberry", "Cherry", "Corn",
	"Grape", "Peach", "Potato", "Raspberry", "Soybean",
	"Squash", "Strawberry", "Tomato",
}

// Disease classes the remote diagnosis model can report.
var KnownDiseases = []string{
	"Apple rust leaf", "Apple Scab Leaf",
	"Bell pepper leaf spot",
	"Corn leaf blight", "Corn rust leaf", "Corn Gray leaf spot",
	"Potato leaf early blight", "Potato leaf late blight",
	"Tomato Early blight leaf", "Tomato leaf late blight",
	"Tomato mold leaf", "Tomato leaf yellow virus",
	"Tomato leaf mosaic virus", "Tomato leaf bacterial spot",
	"Tomato Septoria leaf spot", "Tomato two spotted spider mites leaf",
	"Squash Powdery mildew leaf",
	"Grape leaf black rot",
}
